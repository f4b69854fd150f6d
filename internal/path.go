package path

import (
	"path/filepath"
	"runtime"
)

var (
	_, b, _, _               = runtime.Caller(0)
	ProjectRoot              = filepath.Join(filepath.Dir(b), "../")
	DefaultConfigPath string = filepath.Join(ProjectRoot, "config", "config.toml")
)

// Resolve makes a relative data or log path from the config file relative to
// the directory holding that file. Empty and absolute paths are returned as is.
func Resolve(configFile, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configFile), p)
}
