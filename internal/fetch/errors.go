package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// ErrImageFetch matches every *FetchError with errors.Is
var ErrImageFetch = errors.New("image fetch failed")

type ErrorKind string

const (
	KindNetwork  ErrorKind = "network"
	KindDecode   ErrorKind = "decode"
	KindNotFound ErrorKind = "not_found"
	KindTimeout  ErrorKind = "timeout"
)

// FetchError is delivered to every callback attached to a failed request
type FetchError struct {
	ID   string
	Kind ErrorKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.ID, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == ErrImageFetch
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	default:
		return KindNetwork
	}
}
