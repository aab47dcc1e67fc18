package feed

import (
	"errors"
	"fmt"
)

// ErrNotFound means the item is gone, locally or remotely. Callers treat it
// as a successful no-op: the end state they wanted already holds.
var ErrNotFound = errors.New("item not found")

type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("item not found: %s", e.ID)
}

func (e NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
