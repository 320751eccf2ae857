package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withBuildVars stands in for -ldflags -X injection for one test.
func withBuildVars(t *testing.T, v, c, at string) {
	t.Helper()
	oldVersion, oldCommit, oldBuildTime := version, commit, buildTime
	version, commit, buildTime = v, c, at
	t.Cleanup(func() { version, commit, buildTime = oldVersion, oldCommit, oldBuildTime })
}

func TestNewBuildInfo_Defaults(t *testing.T) {
	assert.Equal(t, BuildInfo{Version: "dev", Commit: "none", BuildTime: "unknown"}, NewBuildInfo())
}

func TestLoadConfig_AttachesBuildInfo(t *testing.T) {
	withBuildVars(t, "1.4.0", "a1b2c3d", "2026-03-14T09:30:00Z")
	setFullTestEnv(t)

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, BuildInfo{Version: "1.4.0", Commit: "a1b2c3d", BuildTime: "2026-03-14T09:30:00Z"}, cfg.Build)
}
