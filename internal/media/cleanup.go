// internal/media/cleanup.go
package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidBattleID is returned for ids that would escape the media root.
var ErrInvalidBattleID = errors.New("invalid battle id for media path")

// DirCleaner removes the per-battle recording directory <Root>/<battle_id>.
type DirCleaner struct {
	Root string
}

// NewDirCleaner returns a cleaner rooted at root.
func NewDirCleaner(root string) *DirCleaner {
	return &DirCleaner{Root: root}
}

// Dir returns the directory holding a battle's recordings.
func (d *DirCleaner) Dir(battleID string) (string, error) {
	if battleID == "" || battleID == "." || battleID == ".." ||
		strings.ContainsAny(battleID, `/\`) {
		return "", ErrInvalidBattleID
	}
	return filepath.Join(d.Root, battleID), nil
}

// Cleanup deletes the battle's directory. A missing directory is not an error.
func (d *DirCleaner) Cleanup(battleID string) error {
	dir, err := d.Dir(battleID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove media for battle %s: %w", battleID, err)
	}
	return nil
}
