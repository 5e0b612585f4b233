// Package instanceid provides the persistent xPL instance id of this host
package instanceid

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/edgecli/xplnet/internal/xpl"
)

// FileName is the file holding the instance id inside the config directory
const FileName = "instance_id"

// New returns a fresh instance id: the first 16 hex digits of a random UUID.
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:xpl.MaxInstanceLen]
}

// GetOrCreate returns the instance id stored in dir, creating one if it
// doesn't exist or is unusable.
func GetOrCreate(dir string) (string, error) {
	path := filepath.Join(dir, FileName)

	// Try to read existing instance ID
	id, err := Get(dir)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	id = New()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("write instance id: %w", err)
	}
	return id, nil
}

// Get returns the stored instance id, or "" when there is none or the stored
// value is not a valid instance.
func Get(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	id := strings.TrimSpace(string(data))
	if _, err := xpl.NewAddress("xpl", "check", id); err != nil {
		return "", nil
	}
	return strings.ToLower(id), nil
}
