// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

package goplugin

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfort/keyfort/pkg/drm"
)

func TestResult_SentinelRoundTrip(t *testing.T) {
	sentinels := []error{
		drm.ErrNotInitialized,
		drm.ErrUnsupportedScheme,
		drm.ErrInvalidState,
		drm.ErrResourceBusy,
		drm.ErrPermissionDenied,
	}

	for _, sentinel := range sentinels {
		t.Run(sentinel.Error(), func(t *testing.T) {
			r := resultFromError(sentinel)
			require.ErrorIs(t, r.Err(), sentinel)
		})
	}
}

func TestResult_WrappedSentinel(t *testing.T) {
	// Wrapping must not change the code carried on the wire.
	wrapped := fmt.Errorf("open session: %w", drm.ErrResourceBusy)
	r := resultFromError(wrapped)
	require.ErrorIs(t, r.Err(), drm.ErrResourceBusy)
}

func TestResult_VendorStatus(t *testing.T) {
	r := resultFromError(drm.StatusError(1002))
	assert.True(t, r.Vendor)

	var status drm.StatusError
	require.ErrorAs(t, r.Err(), &status)
	assert.Equal(t, drm.StatusError(1002), status)
}

func TestResult_OK(t *testing.T) {
	r := resultFromError(nil)
	assert.NoError(t, r.Err())
}

func TestResult_UnknownError(t *testing.T) {
	r := resultFromError(errors.New("socket closed"))
	err := r.Err()
	require.Error(t, err)
	assert.Equal(t, "socket closed", err.Error())

	// Nothing sentinel-shaped comes back out.
	assert.False(t, errors.Is(err, drm.ErrInvalidState))
}

func TestResult_UnknownWithoutMessage(t *testing.T) {
	r := Result{Code: codeUnknown}
	require.Error(t, r.Err())
}
