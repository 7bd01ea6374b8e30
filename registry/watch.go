package registry

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch evicts cached backends when their artifact file is rewritten by
// another process, so the next GetActive reloads from disk. It blocks until
// ctx is cancelled.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(r.dir); err != nil {
		return err
	}
	r.log.Info("watching artifact directory", zap.String("dir", r.dir))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			task, version, ok := parseArtifactName(filepath.Base(event.Name))
			if !ok {
				continue
			}
			if r.cache.Remove(cacheKey(task, version)) {
				r.log.Info("artifact changed on disk, cache entry evicted",
					zap.String("task", task),
					zap.String("version", version),
				)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("artifact watcher error", zap.Error(err))
		}
	}
}

// parseArtifactName inverts artifactPath: "<task>-<version>.model.json".
func parseArtifactName(name string) (task, version string, ok bool) {
	const suffix = ".model.json"
	if !strings.HasSuffix(name, suffix) {
		return "", "", false
	}
	stem := strings.TrimSuffix(name, suffix)
	sep := strings.Index(stem, "-")
	if sep <= 0 || sep == len(stem)-1 {
		return "", "", false
	}
	return stem[:sep], stem[sep+1:], true
}
