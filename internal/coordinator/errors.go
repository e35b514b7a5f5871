package coordinator

import "errors"

// Sentinel error kinds (spec §7 "transport core surfaces errors as return
// values; it never aborts the process"), checked with errors.Is by
// callers such as the control plane, never string-compared.
var (
	ErrNotFound            = errors.New("coordinator: client not found")
	ErrAlreadyExists        = errors.New("coordinator: client already exists")
	ErrWrongState          = errors.New("coordinator: operation not valid in current state")
	ErrTargetNotOff        = errors.New("coordinator: target cpu not reported powered off")
	ErrResourceExhausted   = errors.New("coordinator: resource table allocation exhausted the pool")
)
