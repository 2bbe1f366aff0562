package service

import "errors"

var (
	ErrInvalidArgument = errors.New("service: invalid argument")
	ErrUnauthenticated = errors.New("service: principal is not authenticated")
	ErrConflict        = errors.New("service: credential already exists")
	ErrUnsupported     = errors.New("service: not supported by the token provider")
)
