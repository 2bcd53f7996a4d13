package uuid

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreate returns the device UUID persisted at path, generating and
// storing a fresh one on first run. The value never carries the "uuid:" prefix.
// When the file cannot be written the generated id is still returned with the error.
func LoadOrCreate(path string) (string, error) {
	if b, err := os.ReadFile(path); err == nil {
		s := strings.TrimPrefix(strings.TrimSpace(string(b)), "uuid:")
		if _, err := uuid.Parse(s); err == nil {
			return s, nil
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return id, err
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return id, err
	}
	return id, nil
}
