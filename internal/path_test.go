package path

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	cfg := filepath.Join("/etc", "bridge", "config.toml")

	require.Equal(t, filepath.Join("/etc", "bridge", "data"), Resolve(cfg, "data"))
	require.Equal(t, "/var/lib/bridge", Resolve(cfg, "/var/lib/bridge"))
	require.Empty(t, Resolve(cfg, ""))
	require.Equal(t, filepath.Join(ProjectRoot, "config"), filepath.Dir(DefaultConfigPath))
}
