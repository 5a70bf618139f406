// Package server exposes a Falcon instance over HTTP with echo.
//
//	GET    /api/views                  views, dimensions and last aggregates
//	POST   /api/views/:name/activate   make a view active
//	POST   /api/views/:name/brush      brush the active view
//	GET    /api/filters                current filters
//	PUT    /api/filters/:dimension     set a range or value filter
//	DELETE /api/filters/:dimension     clear a filter
//	GET    /api/entries                rows passing every filter
//	GET    /metrics                    Prometheus metrics
//
// Bodies are JSON through a codec.Codec. Errors map to status codes:
// configuration errors to 400, unknown views or dimensions to 404, brushing
// an inactive view to 409 and unsupported operations to 501.
package server
