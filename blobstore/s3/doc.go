// Package s3 serves dataset files from an Amazon S3 bucket.
//
// Credentials and region come from the default AWS chain unless overridden:
//
//	store, err := s3.New(ctx, "flights",
//	    s3.WithPrefix("datasets/"),
//	    s3.WithRegion("eu-central-1"),
//	)
//	if err != nil { ... }
//	tbl, err := dataset.Load(ctx, store, "2024/ontime.parquet")
//
// Parquet files are fetched with ranged GETs: first the footer, then only
// the column chunks of the configured dimensions. Arrow and CSV objects
// are streamed in one request. Put a blobstore.CachingStore in front when
// the same objects are loaded repeatedly.
package s3
