package encoder

import (
	"bytes"
	"context"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

const ParquetContentType = "application/vnd.apache.parquet"

// Parquet encodes rows with the schema derived from T's parquet struct tags.
type Parquet[T any] struct {
	compression parquet.WriterOption
}

// NewParquet accepts "", "none", "snappy", "gzip" or "zstd".
func NewParquet[T any](compression string) (*Parquet[T], error) {
	e := &Parquet[T]{}
	switch compression {
	case "", "none":
	case "snappy":
		e.compression = parquet.Compression(&parquet.Snappy)
	case "gzip":
		e.compression = parquet.Compression(&parquet.Gzip)
	case "zstd":
		e.compression = parquet.Compression(&parquet.Zstd)
	default:
		return nil, fmt.Errorf("unsupported parquet compression: %q", compression)
	}
	return e, nil
}

func (e *Parquet[T]) FileExtension() string { return ".parquet" }
func (e *Parquet[T]) ContentType() string   { return ParquetContentType }

func (e *Parquet[T]) Encode(ctx context.Context, rows []T) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no rows to encode")
	}

	var opts []parquet.WriterOption
	if e.compression != nil {
		opts = append(opts, e.compression)
	}

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[T](&buf, opts...)
	if _, err := w.Write(rows); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
