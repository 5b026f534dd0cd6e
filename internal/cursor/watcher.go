package cursor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"screenrec/internal/logging"
)

// Watcher reloads the active sprite when its file in the library changes and
// swaps the new sprite into the compositor.
type Watcher struct {
	library    *Library
	compositor *Compositor
	name       string
	logger     *slog.Logger
	reloaded   func(name string)
}

// NewWatcher watches the file backing name.
func NewWatcher(library *Library, compositor *Compositor, name string, logger *slog.Logger) *Watcher {
	if name == "" {
		name = DefaultName
	}
	return &Watcher{
		library:    library,
		compositor: compositor,
		name:       name,
		logger:     logging.NewComponentLogger(logger, "cursor-watch"),
	}
}

// OnReload registers a callback invoked after each successful swap.
func (w *Watcher) OnReload(fn func(name string)) {
	w.reloaded = fn
}

// Run blocks until ctx is cancelled or the underlying watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create cursor watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.library.Dir()); err != nil {
		return fmt.Errorf("watch cursor directory: %w", err)
	}
	target := filepath.Clean(w.library.Path(w.name))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			// Atomic writers surface as Create (rename into place); editors as Write.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(w.logger, "cursor watcher error", "cursor_watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "cursor file changes may be missed"),
			)
		}
	}
}

func (w *Watcher) reload() {
	sprite, err := w.library.decodeFile(w.library.Path(w.name))
	if err != nil {
		// Partial writes are common; the next event retries.
		w.logger.Debug("cursor reload skipped", logging.String("cursor", w.name), logging.Error(err))
		return
	}
	w.compositor.SetSprite(sprite)
	w.logger.Info("cursor reloaded",
		logging.String(logging.FieldEventType, "cursor_reloaded"),
		logging.String("cursor", w.name),
	)
	if w.reloaded != nil {
		w.reloaded(w.name)
	}
}
