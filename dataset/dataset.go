package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/falcon/backend/columnar"
	"github.com/hupe1980/falcon/blobstore"
	"github.com/hupe1980/falcon/resource"
)

// Format is the encoding of a dataset blob.
type Format int

const (
	// FormatAuto picks the format from the blob name.
	FormatAuto Format = iota
	// FormatArrowFile is the Arrow IPC file format (.arrow, .feather, .ipc).
	FormatArrowFile
	// FormatArrowStream is the Arrow IPC stream format (.arrows).
	FormatArrowStream
	// FormatParquet is Apache Parquet (.parquet).
	FormatParquet
	// FormatCSV is comma separated text with a header row (.csv, .tsv).
	FormatCSV
)

func (f Format) String() string {
	switch f {
	case FormatAuto:
		return "auto"
	case FormatArrowFile:
		return "arrow"
	case FormatArrowStream:
		return "arrows"
	case FormatParquet:
		return "parquet"
	case FormatCSV:
		return "csv"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Compression is the whole-blob compression wrapped around a dataset.
type Compression int

const (
	// CompressionAuto picks the compression from the blob name suffix.
	CompressionAuto Compression = iota
	CompressionNone
	CompressionGzip
	CompressionZstd
	CompressionLZ4
)

var (
	// ErrUnknownFormat is returned when no format is given and the blob
	// name has no recognized extension.
	ErrUnknownFormat = errors.New("dataset: unknown format")

	// ErrNoColumns is returned when projection leaves nothing to load.
	ErrNoColumns = errors.New("dataset: no loadable columns")
)

// Options configures Load.
type Options struct {
	Format      Format
	Compression Compression

	// Columns restricts loading to the named columns. Empty loads all.
	Columns []string

	// Comma is the CSV field delimiter. Defaults to ',' or '\t' for .tsv.
	Comma rune

	// ChunkRows is the number of CSV rows decoded per record batch.
	ChunkRows int

	Allocator memory.Allocator
	Logger    *slog.Logger

	// Resources throttles blob reads when it carries a read limit.
	Resources *resource.Controller
}

// Option configures Load.
type Option func(*Options)

// WithFormat overrides format detection.
func WithFormat(f Format) Option {
	return func(o *Options) { o.Format = f }
}

// WithCompression overrides compression detection.
func WithCompression(c Compression) Option {
	return func(o *Options) { o.Compression = c }
}

// WithColumns loads only the named columns.
func WithColumns(cols ...string) Option {
	return func(o *Options) { o.Columns = cols }
}

// WithComma sets the CSV delimiter.
func WithComma(r rune) Option {
	return func(o *Options) { o.Comma = r }
}

// WithChunkRows sets the CSV batch size.
func WithChunkRows(n int) Option {
	return func(o *Options) { o.ChunkRows = n }
}

// WithAllocator sets the Arrow allocator used for decoded arrays.
func WithAllocator(mem memory.Allocator) Option {
	return func(o *Options) { o.Allocator = mem }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithResourceController throttles reads through rc.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *Options) { o.Resources = rc }
}

// Load reads the blob name from store into an in-memory Arrow table.
// The caller owns the result and must Release it.
func Load(ctx context.Context, store blobstore.BlobStore, name string, optFns ...Option) (*columnar.ArrowTable, error) {
	opts := Options{
		ChunkRows: 64 << 10,
		Allocator: memory.DefaultAllocator,
		Logger:    slog.Default(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	format, comp, err := detect(name, opts.Format, opts.Compression)
	if err != nil {
		return nil, err
	}
	if opts.Comma == 0 {
		opts.Comma = ','
		if strings.Contains(strings.ToLower(path.Base(name)), ".tsv") {
			opts.Comma = '\t'
		}
	}

	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", name, err)
	}
	defer blob.Close()

	log := opts.Logger.With("blob", name, "format", format.String())
	log.DebugContext(ctx, "loading dataset", "size", blob.Size())

	var tbl *columnar.ArrowTable
	if comp == CompressionNone && (format == FormatArrowFile || format == FormatParquet) {
		ra := resource.NewReaderAt(ctx, blobstore.ReaderAt(ctx, blob), opts.Resources)
		tbl, err = decodeRandom(format, io.NewSectionReader(ra, 0, blob.Size()), &opts)
	} else {
		tbl, err = loadStream(ctx, blob, format, comp, &opts)
	}
	if err != nil {
		return nil, fmt.Errorf("dataset: load %s: %w", name, err)
	}

	log.InfoContext(ctx, "dataset loaded", "rows", tbl.NumRows(), "columns", len(tbl.ColumnNames()))
	return tbl, nil
}

func loadStream(ctx context.Context, blob blobstore.Blob, format Format, comp Compression, opts *Options) (*columnar.ArrowTable, error) {
	var r io.Reader = resource.NewReader(ctx, blobstore.NewReader(ctx, blob), opts.Resources)

	dec, err := decompress(r, comp)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	switch format {
	case FormatArrowStream:
		return readIPCStream(dec, opts)
	case FormatCSV:
		return readCSV(dec, opts)
	}

	// The file formats need random access, so the decompressed blob is
	// buffered whole.
	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, err
	}
	return decodeRandom(format, bytes.NewReader(data), opts)
}

// randomReader is satisfied by *io.SectionReader and *bytes.Reader.
type randomReader interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	Size() int64
}

func decodeRandom(format Format, r randomReader, opts *Options) (*columnar.ArrowTable, error) {
	switch format {
	case FormatArrowFile:
		return readIPCFile(r, opts)
	case FormatParquet:
		return readParquet(r, r.Size(), opts)
	default:
		return nil, fmt.Errorf("%w: %s needs a stream", ErrUnknownFormat, format)
	}
}

var compressionExts = map[string]Compression{
	".gz":   CompressionGzip,
	".zst":  CompressionZstd,
	".zstd": CompressionZstd,
	".lz4":  CompressionLZ4,
}

var formatExts = map[string]Format{
	".arrow":   FormatArrowFile,
	".feather": FormatArrowFile,
	".ipc":     FormatArrowFile,
	".arrows":  FormatArrowStream,
	".parquet": FormatParquet,
	".csv":     FormatCSV,
	".tsv":     FormatCSV,
}

// detect resolves auto format and compression from the blob name, for
// example "flights.csv.zst" is zstd compressed CSV.
func detect(name string, format Format, comp Compression) (Format, Compression, error) {
	base := strings.ToLower(path.Base(name))
	if comp == CompressionAuto {
		comp = CompressionNone
		if c, ok := compressionExts[path.Ext(base)]; ok {
			comp = c
			base = strings.TrimSuffix(base, path.Ext(base))
		}
	} else {
		base = strings.TrimSuffix(base, compressionExt(comp))
	}
	if format == FormatAuto {
		f, ok := formatExts[path.Ext(base)]
		if !ok {
			return 0, 0, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
		}
		format = f
	}
	return format, comp, nil
}

func compressionExt(c Compression) string {
	for ext, cc := range compressionExts {
		if cc == c && ext != ".zstd" {
			return ext
		}
	}
	return ""
}

func decompress(r io.Reader, c Compression) (io.ReadCloser, error) {
	switch c {
	case CompressionNone, CompressionAuto:
		return io.NopCloser(r), nil
	case CompressionGzip:
		return gzip.NewReader(r)
	case CompressionZstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("dataset: unknown compression %d", int(c))
	}
}
