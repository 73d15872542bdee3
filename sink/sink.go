// Package sink stores encoded archive objects.
package sink

import "context"

type Object struct {
	Key         string
	Body        []byte
	ContentType string
	// Metadata is attached as user metadata where the store supports it.
	Metadata map[string]string
}

type Sink interface {
	Put(ctx context.Context, obj Object) error
}
