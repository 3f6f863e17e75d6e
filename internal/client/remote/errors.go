package remote

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/todo-keeper/internal/errs"
)

// sentinelFor maps a gRPC status back onto the shared sentinels.
func sentinelFor(st *status.Status) error {
	switch st.Code() {
	case codes.Unauthenticated:
		return errs.ErrUnauthorized
	case codes.AlreadyExists:
		return errs.ErrAlreadyExists
	case codes.ResourceExhausted:
		return errs.ErrRateLimited
	case codes.PermissionDenied:
		return errs.ErrPermissionDenied
	case codes.NotFound:
		return errs.ErrNotFound
	case codes.Unavailable, codes.DeadlineExceeded:
		return errs.ErrUnavailable
	case codes.InvalidArgument:
		switch {
		case strings.Contains(st.Message(), errs.ErrWeakPassword.Error()):
			return errs.ErrWeakPassword
		case strings.Contains(st.Message(), errs.ErrInvalidPath.Error()):
			return errs.ErrInvalidPath
		}
	}
	return nil
}

func unwrapStatus(err error) (*status.Status, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err), err
	}
	st, ok := status.FromError(err)
	if !ok {
		return status.New(codes.Unknown, err.Error()), err
	}
	if s := sentinelFor(st); s != nil {
		return st, s
	}
	return st, err
}

// authError converts an RPC failure into an AuthenticationError whose Msg is the server message.
func authError(op string, err error) error {
	if err == nil {
		return nil
	}
	st, cause := unwrapStatus(err)
	return &errs.AuthenticationError{Op: op, Msg: st.Message(), Err: cause}
}

// storageError converts an RPC failure into a StorageError for path.
func storageError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	st, cause := unwrapStatus(err)
	return &errs.StorageError{Op: op, Path: path, Msg: st.Message(), Err: cause}
}
