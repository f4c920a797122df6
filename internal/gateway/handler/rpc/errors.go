package rpc

import (
	"context"
	"errors"

	"connectrpc.com/connect"

	"kisanbazaar/internal/advisory"
	"kisanbazaar/internal/apperr"
)

// CodeOf maps an error to the Connect code clients see. Invalid model output
// looks the same to callers as a failed model call.
func CodeOf(err error) connect.Code {
	var ce *connect.Error
	switch {
	case errors.As(err, &ce):
		return ce.Code()
	case errors.Is(err, context.DeadlineExceeded):
		return connect.CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return connect.CodeCanceled
	case errors.Is(err, advisory.ErrNotFound):
		return connect.CodeNotFound
	}
	switch apperr.KindOf(err) {
	case apperr.CallerContract:
		return connect.CodeInvalidArgument
	case apperr.ModelInvocation, apperr.SchemaValidation:
		return connect.CodeUnavailable
	default:
		return connect.CodeInternal
	}
}

func toConnectError(err error) error {
	if err == nil {
		return nil
	}
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce
	}
	return connect.NewError(CodeOf(err), err)
}
