package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// saveStatus writes the status snapshot for out-of-process readers such as
// `govkernel status`. Failures are logged only.
func (d *Daemon) saveStatus(ctx context.Context) {
	if d.statusPath == "" {
		return
	}
	if err := writeStatusFile(d.statusPath, d.Status(ctx)); err != nil {
		d.logger.WarnContext(ctx, "failed to write status snapshot", "path", d.statusPath, "error", err)
	}
}

func writeStatusFile(path string, s Status) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o640); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

// ReadStatus loads the snapshot written by a daemon configured with StatusPath.
func ReadStatus(path string) (Status, error) {
	var s Status
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decode status %s: %w", path, err)
	}
	return s, nil
}
