package rbac

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchPolicy reloads the casbin policy when the policy file changes on disk.
// Returns a stop function.
func WatchPolicy(p *CasbinPolicy, policyPath string) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// watch the directory; editors replace files rather than writing in place
	dir := filepath.Dir(policyPath)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	target := filepath.Clean(policyPath)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := p.LoadPolicy(); err != nil {
					slog.Error("rbac policy reload failed", "path", policyPath, "err", err)
					continue
				}
				slog.Info("rbac policy reloaded", "path", policyPath)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("rbac policy watcher error", "err", err)
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		_ = w.Close()
	}, nil
}
