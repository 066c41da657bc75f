package fieldsync

import (
	"errors"
	"fmt"
)

var (
	// ErrNotCacheable is returned by Put for snapshots that must never be
	// stored: non-GET requests and anything but a successful, complete response.
	ErrNotCacheable = errors.New("fieldsync: response not cacheable")
)

// DeleteError reports a delete whose index update and/or provider delete failed.
type DeleteError struct {
	Namespace string
	Key       string // empty when a whole namespace was being deleted
	IndexErr  error
	DelErr    error
}

func (e *DeleteError) Error() string {
	target := e.Namespace
	if e.Key != "" {
		target = e.Namespace + " " + e.Key
	}
	switch {
	case e.IndexErr != nil && e.DelErr != nil:
		return fmt.Sprintf("delete %q failed: index update and delete failed: index=%v; delete=%v",
			target, e.IndexErr, e.DelErr)
	case e.IndexErr != nil:
		return fmt.Sprintf("delete %q: index update failed: %v", target, e.IndexErr)
	case e.DelErr != nil:
		return fmt.Sprintf("delete %q: delete failed: %v", target, e.DelErr)
	default:
		return fmt.Sprintf("delete %q: unknown error", target)
	}
}

func (e *DeleteError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.IndexErr != nil {
		errs = append(errs, e.IndexErr)
	}
	if e.DelErr != nil {
		errs = append(errs, e.DelErr)
	}
	return errs
}
