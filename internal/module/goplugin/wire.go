// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

package goplugin

import (
	"errors"

	"github.com/keyfort/keyfort/pkg/drm"
)

// Status codes for the shared error vocabulary. net/rpc flattens error
// values to strings, so call outcomes travel in reply structs instead and
// are rehydrated into sentinel errors on the other side.
const (
	codeOK uint32 = iota
	codeNotInitialized
	codeUnsupportedScheme
	codeInvalidState
	codeResourceBusy
	codePermissionDenied
	codeUnknown
)

// Result is the wire form of a call outcome. Vendor marks a plugin-defined
// status code passed through unchanged.
type Result struct {
	Code   uint32
	Vendor bool
	Msg    string
}

func resultFromError(err error) Result {
	if err == nil {
		return Result{Code: codeOK}
	}
	var vendor drm.StatusError
	if errors.As(err, &vendor) {
		return Result{Code: uint32(vendor), Vendor: true, Msg: err.Error()}
	}
	switch {
	case errors.Is(err, drm.ErrNotInitialized):
		return Result{Code: codeNotInitialized, Msg: err.Error()}
	case errors.Is(err, drm.ErrUnsupportedScheme):
		return Result{Code: codeUnsupportedScheme, Msg: err.Error()}
	case errors.Is(err, drm.ErrInvalidState):
		return Result{Code: codeInvalidState, Msg: err.Error()}
	case errors.Is(err, drm.ErrResourceBusy):
		return Result{Code: codeResourceBusy, Msg: err.Error()}
	case errors.Is(err, drm.ErrPermissionDenied):
		return Result{Code: codePermissionDenied, Msg: err.Error()}
	}
	return Result{Code: codeUnknown, Msg: err.Error()}
}

// Err rehydrates the wire form back into an error value.
func (r Result) Err() error {
	if r.Vendor {
		return drm.StatusError(r.Code)
	}
	switch r.Code {
	case codeOK:
		return nil
	case codeNotInitialized:
		return drm.ErrNotInitialized
	case codeUnsupportedScheme:
		return drm.ErrUnsupportedScheme
	case codeInvalidState:
		return drm.ErrInvalidState
	case codeResourceBusy:
		return drm.ErrResourceBusy
	case codePermissionDenied:
		return drm.ErrPermissionDenied
	}
	if r.Msg == "" {
		return errors.New("drm: plugin call failed")
	}
	return errors.New(r.Msg)
}
