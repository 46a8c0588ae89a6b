package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reloads the config file when it changes on disk and hands the
// parsed result to a callback. Events are debounced because editors and the
// Store both produce rename+write bursts.
type Watcher struct {
	path     string
	onChange func(*Config)
	logger   *logrus.Logger
	debounce time.Duration
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, logger *logrus.Logger, onChange func(*Config)) *Watcher {
	return &Watcher{
		path:     path,
		onChange: onChange,
		logger:   logger,
		debounce: 500 * time.Millisecond,
	}
}

// Run watches until the context is cancelled. It watches the parent
// directory rather than the file itself so atomic replaces keep working.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return err
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Config watcher error")

		case <-fire:
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.WithError(err).Error("Config changed on disk but failed to load, keeping current configuration")
				continue
			}
			w.logger.WithField("path", w.path).Info("Config file changed, applying")
			w.onChange(cfg)
		}
	}
}
