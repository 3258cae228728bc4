package notify

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/greenfell/hearth/internal/config"
)

// WriteRetrievalFile writes tuning to path atomically: the YAML goes to a
// temporary file in the same directory which is then renamed over the target.
// A watcher on the file therefore sees one complete replacement, never a
// partially written file.
func WriteRetrievalFile(path string, file *config.RetrievalFile) error {
	data, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("notify: failed to encode retrieval file: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".retrieval-*.yaml")
	if err != nil {
		return fmt.Errorf("notify: failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("notify: failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("notify: failed to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("notify: failed to replace %s: %w", path, err)
	}
	return nil
}
