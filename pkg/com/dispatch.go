// Package com drives ASCOM COM drivers. Every driver instance lives on its
// own actor worker, which initializes the COM apartment, creates the object
// by ProgID and is the only goroutine that ever calls into it.
package com

// Dispatch is late-bound access to a driver object, the equivalent of
// IDispatch property gets/puts and method invocations.
type Dispatch interface {
	Get(name string) (any, error)
	Set(name string, value any) error
	Call(method string, args ...any) (any, error)
	Release()
}

// Factory sets up the per-thread execution context and creates driver
// objects by ProgID. All three methods are called on the worker thread.
type Factory interface {
	Init() error
	Create(progID string) (Dispatch, error)
	Uninit()
}
