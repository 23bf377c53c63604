package rpc

import "errors"

var (
	// ErrDuplicateService reports a service id already bound to a
	// different request/response type pair.
	ErrDuplicateService = errors.New("rpc: service id already registered")
	// ErrDeserialization reports a payload that does not match the
	// registered type (bad metadata, tensor count or shape).
	ErrDeserialization = errors.New("rpc: cannot deserialize payload")
	// ErrConnection reports a failed connection establishment after the
	// retry budget is exhausted.
	ErrConnection = errors.New("rpc: cannot connect")
	// ErrConnectionClosed reports an operation on a closed or faulted
	// connection; in-flight requests fail with it instead of hanging.
	ErrConnectionClosed = errors.New("rpc: connection closed")
	// ErrRemoteProcessing reports a server-side processing failure
	// propagated back to the caller as a failed response.
	ErrRemoteProcessing = errors.New("rpc: remote processing failed")
)
