package queue

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// ErrNotProvisioned is returned by backends that need CreateQueue to run
// before they can serve requests.
var ErrNotProvisioned = errors.New("queue not provisioned")

func backendError(err error, backend, queue, op string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryOperation, fmt.Sprintf("queue %s %q: %s", backend, queue, op)).
		WithMetadata(map[string]any{
			"backend":   backend,
			"queue":     queue,
			"operation": op,
		})
}

func invalidInput(backend, queue, message string) error {
	return goerrors.New(fmt.Sprintf("queue %s %q: %s", backend, queue, message), goerrors.CategoryBadInput).
		WithMetadata(map[string]any{
			"backend": backend,
			"queue":   queue,
		})
}
