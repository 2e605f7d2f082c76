package catalog

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrNotLoaded is returned when no snapshot has been loaded yet.
var ErrNotLoaded = eris.New("catalog: not loaded")

// Registry holds the current snapshot and swaps it atomically on reload, so
// in-flight match runs keep the snapshot they started with.
type Registry struct {
	path    string
	opts    Options
	current atomic.Pointer[Snapshot]
	modTime atomic.Int64
}

// NewRegistry creates a registry for the catalog file at path.
func NewRegistry(path string, opts Options) *Registry {
	return &Registry{path: path, opts: opts}
}

// Load reads the catalog file and installs the result. On error the previous
// snapshot stays in place.
func (r *Registry) Load() (*Snapshot, error) {
	info, err := os.Stat(r.path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: stat %s", r.path)
	}
	snap, err := LoadFile(r.path, r.opts)
	if err != nil {
		return nil, err
	}
	r.Store(snap)
	r.modTime.Store(info.ModTime().UnixNano())

	zap.L().Info("catalog: loaded",
		zap.String("path", r.path),
		zap.String("version", snap.Version()),
		zap.Int("subsidies", snap.Len()),
		zap.Int("invalid", len(snap.Invalid())),
	)
	return snap, nil
}

// Store installs a snapshot directly.
func (r *Registry) Store(s *Snapshot) {
	r.current.Store(s)
}

// Current returns the installed snapshot, or nil.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Snapshot returns the installed snapshot for a match run.
func (r *Registry) Snapshot(_ context.Context) (*Snapshot, error) {
	s := r.current.Load()
	if s == nil {
		return nil, ErrNotLoaded
	}
	return s, nil
}

// Watch polls the catalog file and reloads it when its modification time
// changes. It returns when ctx is done.
func (r *Registry) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(r.path)
			if err != nil {
				zap.L().Warn("catalog: stat failed", zap.String("path", r.path), zap.Error(err))
				continue
			}
			if info.ModTime().UnixNano() == r.modTime.Load() {
				continue
			}
			if _, err := r.Load(); err != nil {
				r.modTime.Store(info.ModTime().UnixNano())
				zap.L().Error("catalog: reload failed, keeping previous snapshot", zap.Error(err))
			}
		}
	}
}
