//go:build windows

package com

import (
	"errors"

	"astrobridge/pkg/device"

	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
)

// S_FALSE: the apartment was already initialized on this thread.
const sFalse = 0x00000001

type oleFactory struct{}

// DefaultFactory returns a factory backed by the Windows COM runtime using a
// single-threaded apartment.
func DefaultFactory() Factory {
	return oleFactory{}
}

func (oleFactory) Init() error {
	err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED)
	var oleErr *ole.OleError
	if errors.As(err, &oleErr) && oleErr.Code() == sFalse {
		return nil
	}
	return err
}

func (oleFactory) Uninit() {
	ole.CoUninitialize()
}

func (oleFactory) Create(progID string) (Dispatch, error) {
	unknown, err := oleutil.CreateObject(progID)
	if err != nil {
		return nil, err
	}
	defer unknown.Release()

	disp, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return nil, err
	}
	return &oleDispatch{disp: disp}, nil
}

type oleDispatch struct {
	disp *ole.IDispatch
}

func (d *oleDispatch) Get(name string) (any, error) {
	v, err := oleutil.GetProperty(d.disp, name)
	if err != nil {
		return nil, convertError(err)
	}
	defer v.Clear()
	return v.Value(), nil
}

func (d *oleDispatch) Set(name string, value any) error {
	v, err := oleutil.PutProperty(d.disp, name, value)
	if err != nil {
		return convertError(err)
	}
	if v != nil {
		_ = v.Clear()
	}
	return nil
}

func (d *oleDispatch) Call(method string, args ...any) (any, error) {
	v, err := oleutil.CallMethod(d.disp, method, args...)
	if err != nil {
		return nil, convertError(err)
	}
	defer v.Clear()
	return v.Value(), nil
}

func (d *oleDispatch) Release() {
	d.disp.Release()
}

// convertError turns a COM exception into a device error carrying the
// HRESULT, which for ASCOM drivers holds the ASCOM error number.
func convertError(err error) error {
	var oleErr *ole.OleError
	if errors.As(err, &oleErr) {
		return &device.DeviceError{Code: int(oleErr.Code() & 0xFFFF), Message: oleErr.Error()}
	}
	return err
}
