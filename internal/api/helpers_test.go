package api

import (
	"os"
	"path/filepath"
)

func writeIndex(dir string) error {
	return os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>scoreboard</h1>"), 0o600)
}
