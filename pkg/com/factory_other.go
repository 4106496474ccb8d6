//go:build !windows

package com

import "errors"

var errNoCOM = errors.New("COM drivers are only available on Windows")

type unavailableFactory struct{}

// DefaultFactory returns the platform COM factory. On this platform every
// driver creation fails during apartment setup.
func DefaultFactory() Factory {
	return unavailableFactory{}
}

func (unavailableFactory) Init() error { return errNoCOM }

func (unavailableFactory) Create(string) (Dispatch, error) { return nil, errNoCOM }

func (unavailableFactory) Uninit() {}
