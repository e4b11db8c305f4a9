// Copyright (C) 2025 the greenlight-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithNoFilesFallsBackToEnvOnly(t *testing.T) {
	t.Setenv("GL_NODE_ID", "deadbeef")
	t.Setenv("GL_HSMD_SOCK_PATH", "/run/glplugin/hsmd.sock")

	cfg, err := Load(LoaderOptions{ConfigDir: t.TempDir(), DotenvPath: ""})
	require.NoError(t, err)

	require.NotNil(t, cfg.Plugin)
	assert.Equal(t, "deadbeef", cfg.Plugin.NodeID)
	assert.Equal(t, "/run/glplugin/hsmd.sock", cfg.Plugin.HsmdSockPath)
	assert.Equal(t, "development", cfg.Environment)
}

func TestEnvironmentOverridesTakePriorityOverFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := dir + "/default.yaml"
	require.NoError(t, SaveToFile(&Config{Plugin: &PluginConfig{NodeID: "from-file"}}, cfgPath))

	t.Setenv("GL_NODE_ID", "from-env")

	cfg, err := Load(LoaderOptions{ConfigDir: dir, DotenvPath: ""})
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Plugin.NodeID)
}

func TestSchedulerURIOverrideAppliesToBothSections(t *testing.T) {
	t.Setenv("GL_SCHEDULER_URI", "https://scheduler.example.com:2601")

	cfg, err := Load(LoaderOptions{ConfigDir: t.TempDir(), DotenvPath: ""})
	require.NoError(t, err)

	require.NotNil(t, cfg.Signer)
	require.NotNil(t, cfg.Scheduler)
	assert.Equal(t, "https://scheduler.example.com:2601", cfg.Signer.SchedulerURI)
	assert.Equal(t, "https://scheduler.example.com:2601", cfg.Scheduler.URI)
}

func TestMustLoadPanicsNever(t *testing.T) {
	assert.NotPanics(t, func() {
		MustLoad(LoaderOptions{ConfigDir: t.TempDir(), DotenvPath: ""})
	})
}
