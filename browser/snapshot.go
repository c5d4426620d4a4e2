package browser

import (
	"log/slog"
	"os"
	"path/filepath"
)

// Snapshotter writes named diagnostic screenshots. A disabled snapshotter
// is a no-op, so drivers call Capture unconditionally on every terminal
// path.
type Snapshotter struct {
	enabled bool
	dir     string
}

// NewSnapshotter creates the save directory when snapshots are enabled.
func NewSnapshotter(enabled bool, dir string) (*Snapshotter, error) {
	if enabled {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &Snapshotter{enabled: enabled, dir: dir}, nil
}

// Capture saves the page's current viewport as <dir>/<name>.png.
// Failures are logged, never propagated: a broken screenshot must not turn
// a successful measurement into a failed one.
func (s *Snapshotter) Capture(p Page, name string) {
	if s == nil || !s.enabled {
		return
	}
	data, err := p.Screenshot()
	if err != nil {
		slog.Warn("failed to take snapshot", "name", name, "error", err)
		return
	}
	path := filepath.Join(s.dir, name+".png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.Warn("failed to save snapshot", "path", path, "error", err)
		return
	}
	slog.Debug("snapshot saved", "path", path)
}
