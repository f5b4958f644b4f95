package config

import (
	"context"
	"encoding/json"
	"path/filepath"

	"github.com/a8m/envsubst"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/imhunterand/iDA-projectile/control"
	"github.com/imhunterand/iDA-projectile/logging"
)

// ReadGains reads only the gains section of the config file. It returns nil gains when the file
// has none.
func ReadGains(filePath string) (*control.Gains, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var section struct {
		Gains *control.Gains `json:"gains"`
	}
	if err := json.Unmarshal(buf, &section); err != nil {
		return nil, errors.Wrap(err, "failed to decode gains from json")
	}
	return section.Gains, nil
}

// WatchGains calls apply with the gains section of filePath every time the file is written,
// until ctx is done. The directory is watched so that editors replacing the file are noticed.
// apply is responsible for validating the gains.
func WatchGains(ctx context.Context, filePath string, logger logging.Logger, apply func(control.Gains) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logger.Debugw("closing config watcher", "error", err)
		}
	}()

	abs, err := filepath.Abs(filePath)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return errors.Wrapf(err, "watching %s", filePath)
	}
	logger.Debugw("watching config for gain changes", "path", abs)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnw("config watcher error", "error", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			gains, err := ReadGains(abs)
			if err != nil {
				logger.Warnw("ignoring unreadable config change", "path", abs, "error", err)
				continue
			}
			if gains == nil {
				continue
			}
			if err := apply(*gains); err != nil {
				logger.Warnw("rejected reloaded gains", "error", err)
				continue
			}
			logger.Infow("reloaded gains", "path", abs)
		}
	}
}
