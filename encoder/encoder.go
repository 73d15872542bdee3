// Package encoder serializes archive rows into object payloads.
package encoder

import "context"

// Encoder converts a slice of typed rows into one object body.
//
// Implementations must be safe for concurrent use unless documented otherwise.
type Encoder[T any] interface {
	Encode(ctx context.Context, rows []T) ([]byte, error)
	FileExtension() string
	ContentType() string
}
