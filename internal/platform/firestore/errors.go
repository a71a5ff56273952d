package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error classifies Firestore failures into the not-found, conflict, and
// unavailable categories the repository interfaces expose.
type Error struct {
	op   string
	err  error
	kind errorKind
}

type errorKind int

const (
	kindUnknown errorKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
)

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func (e *Error) IsNotFound() bool {
	return e != nil && e.kind == kindNotFound
}

func (e *Error) IsConflict() bool {
	return e != nil && e.kind == kindConflict
}

func (e *Error) IsUnavailable() bool {
	return e != nil && e.kind == kindUnavailable
}

// WrapError maps gRPC status codes onto repository error semantics. Context
// cancellations pass through so callers can handle them directly.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var repoErr *Error
	if errors.As(err, &repoErr) {
		if op != "" && repoErr.op == "" {
			repoErr.op = op
		}
		return repoErr
	}

	kind := kindUnknown
	switch code {
	case codes.NotFound:
		kind = kindNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		kind = kindConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal:
		kind = kindUnavailable
	}
	return &Error{op: op, err: err, kind: kind}
}
