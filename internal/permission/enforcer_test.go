// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

package permission_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfort/keyfort/internal/permission"
)

func TestEnforcer_Allow(t *testing.T) {
	tests := []struct {
		name   string
		grants []string
		perm   string
		want   bool
	}{
		{"exact match", []string{"drm.certificates"}, "drm.certificates", true},
		{"no match", []string{"drm.certificates"}, "drm.provisioning", false},
		{"single segment wildcard", []string{"drm.*"}, "drm.certificates", true},
		{"single wildcard does not cross segments", []string{"drm.*"}, "drm.certificates.sign", false},
		{"double wildcard crosses segments", []string{"drm.**"}, "drm.certificates.sign", true},
		{"match all", []string{"**"}, "drm.certificates", true},
		{"second grant matches", []string{"media.play", "drm.certificates"}, "drm.certificates", true},
		{"no grants", nil, "drm.certificates", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := permission.NewEnforcer()
			if tt.grants != nil {
				require.NoError(t, e.SetGrants("player", tt.grants))
			}
			assert.Equal(t, tt.want, e.Allow("player", tt.perm))
		})
	}
}

func TestEnforcer_UnknownSubject(t *testing.T) {
	e := permission.NewEnforcer()
	require.NoError(t, e.SetGrants("player", []string{"**"}))

	assert.False(t, e.Allow("stranger", "drm.certificates"))
}

func TestEnforcer_SetGrants_Validation(t *testing.T) {
	e := permission.NewEnforcer()

	require.Error(t, e.SetGrants("", []string{"drm.*"}))
	require.Error(t, e.SetGrants("player", []string{""}))

	// A bad pattern leaves existing grants untouched.
	require.NoError(t, e.SetGrants("player", []string{"drm.certificates"}))
	require.Error(t, e.SetGrants("player", []string{"drm.["}))
	assert.True(t, e.Allow("player", "drm.certificates"))
}

func TestEnforcer_SetGrants_Replaces(t *testing.T) {
	e := permission.NewEnforcer()

	require.NoError(t, e.SetGrants("player", []string{"drm.certificates"}))
	require.NoError(t, e.SetGrants("player", []string{"media.play"}))

	assert.False(t, e.Allow("player", "drm.certificates"))
	assert.True(t, e.Allow("player", "media.play"))
}

func TestEnforcer_RemoveGrants(t *testing.T) {
	e := permission.NewEnforcer()
	require.NoError(t, e.SetGrants("player", []string{"**"}))

	e.RemoveGrants("player")
	assert.False(t, e.Allow("player", "drm.certificates"))
}

func TestEnforcer_ZeroValue(t *testing.T) {
	var e permission.Enforcer

	assert.False(t, e.Allow("player", "drm.certificates"))
	require.NoError(t, e.SetGrants("player", []string{"drm.*"}))
	assert.True(t, e.Allow("player", "drm.certificates"))
}
