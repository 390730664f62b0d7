// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

package drm_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfort/keyfort/pkg/drm"
)

func TestParseSchemeID(t *testing.T) {
	want := drm.SchemeID{
		0x10, 0x77, 0xef, 0xec, 0xc0, 0xb2, 0x4d, 0x02,
		0xac, 0xe3, 0x3c, 0x1e, 0x52, 0xe2, 0xfb, 0x4b,
	}

	tests := []struct {
		name    string
		input   string
		want    drm.SchemeID
		wantErr bool
	}{
		{"uuid form", "1077efec-c0b2-4d02-ace3-3c1e52e2fb4b", want, false},
		{"bare hex", "1077efecc0b24d02ace33c1e52e2fb4b", want, false},
		{"uppercase hex", "1077EFECC0B24D02ACE33C1E52E2FB4B", want, false},
		{"too short", "1077efec", drm.SchemeID{}, true},
		{"too long", "1077efecc0b24d02ace33c1e52e2fb4b00", drm.SchemeID{}, true},
		{"not hex", "zz77efec-c0b2-4d02-ace3-3c1e52e2fb4b", drm.SchemeID{}, true},
		{"empty", "", drm.SchemeID{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := drm.ParseSchemeID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSchemeID_String(t *testing.T) {
	id, err := drm.ParseSchemeID("1077EFEC-C0B2-4D02-ACE3-3C1E52E2FB4B")
	require.NoError(t, err)
	assert.Equal(t, "1077efec-c0b2-4d02-ace3-3c1e52e2fb4b", id.String())

	// Round trip
	parsed, err := drm.ParseSchemeID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestStatusError(t *testing.T) {
	err := drm.StatusError(1001)
	assert.Equal(t, "drm: plugin status 1001", err.Error())

	wrapped := errors.Join(errors.New("outer"), err)
	var status drm.StatusError
	require.ErrorAs(t, wrapped, &status)
	assert.Equal(t, drm.StatusError(1001), status)
}
