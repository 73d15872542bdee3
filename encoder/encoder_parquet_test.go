package encoder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/parquet-go/parquet-go"
)

type row struct {
	Key   string `parquet:"key"`
	Count int64  `parquet:"count"`
}

var _ Encoder[row] = (*Parquet[row])(nil)

func readRows(t *testing.T, b []byte) []row {
	t.Helper()

	r := parquet.NewGenericReader[row](bytes.NewReader(b))
	defer r.Close()

	var out []row
	buf := make([]row, 16)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read parquet: %v", err)
		}
	}
	return out
}

func TestNewParquet_RejectsUnknownCompression(t *testing.T) {
	if _, err := NewParquet[row]("brotli"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParquet_Metadata(t *testing.T) {
	e, _ := NewParquet[row]("")
	if e.FileExtension() != ".parquet" || e.ContentType() != ParquetContentType {
		t.Fatalf("unexpected metadata %q %q", e.FileExtension(), e.ContentType())
	}
}

func TestParquet_RoundTrip(t *testing.T) {
	in := []row{{Key: "a", Count: 1}, {Key: "b", Count: 2}, {Key: "c", Count: 3}}
	for _, c := range []string{"", "snappy", "zstd"} {
		e, err := NewParquet[row](c)
		if err != nil {
			t.Fatalf("NewParquet(%q): %v", c, err)
		}
		data, err := e.Encode(context.Background(), in)
		if err != nil {
			t.Fatalf("Encode(%q): %v", c, err)
		}
		got := readRows(t, data)
		if len(got) != len(in) {
			t.Fatalf("%q: expected %d rows, got %d", c, len(in), len(got))
		}
		for i := range in {
			if got[i] != in[i] {
				t.Fatalf("%q row %d: got %+v want %+v", c, i, got[i], in[i])
			}
		}
	}
}

func TestParquet_EmptyAndCanceled(t *testing.T) {
	e, _ := NewParquet[row]("snappy")
	if _, err := e.Encode(context.Background(), nil); err == nil {
		t.Fatalf("expected error for empty input")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Encode(ctx, []row{{Key: "a"}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
