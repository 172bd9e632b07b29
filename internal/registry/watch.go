package registry

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/riftstore/eventstore/internal/eventstore"
)

// Watch starts an fsnotify watcher on configDir (and its scope
// subdirectories as they appear) so that an operator hand-editing a topic's
// config JSON on disk — adding an eventType to schemas[] outside the HTTP
// surface — is picked up without a restart. It runs until stop is closed.
// Errors setting up the watcher are logged and Watch returns immediately;
// this is a convenience, not a component the core depends on for
// correctness.
func (r *Registry) Watch(stop <-chan struct{}) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Warn("config watch disabled: failed to create fsnotify watcher", "error", err)
		return
	}

	if err := addWatchTree(w, r.configDir); err != nil {
		r.logger.Warn("config watch disabled: failed to watch config directory", "error", err)
		w.Close()
		return
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-stop:
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				r.handleWatchEvent(w, event)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.logger.Warn("config watch error", "error", err)
			}
		}
	}()
}

func addWatchTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

func (r *Registry) handleWatchEvent(w *fsnotify.Watcher, event fsnotify.Event) {
	info, err := os.Stat(event.Name)
	if err == nil && info.IsDir() {
		if event.Op&(fsnotify.Create) != 0 {
			_ = w.Add(event.Name)
		}
		return
	}

	if filepath.Ext(event.Name) != ".json" {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	data, err := os.ReadFile(event.Name)
	if err != nil {
		r.logger.Warn("config watch: failed to read changed file", "path", event.Name, "error", err)
		return
	}

	var topic eventstore.Topic
	if err := json.Unmarshal(data, &topic); err != nil {
		r.logger.Warn("config watch: failed to parse changed file", "path", event.Name, "error", err)
		return
	}

	sc, err := scopeFromConfigPath(r.configDir, event.Name, topic.Name)
	if err != nil {
		r.logger.Warn("config watch: could not determine scope for changed file", "path", event.Name, "error", err)
		return
	}

	qualified := sc.Qualify(topic.Name)
	r.structMu.RLock()
	entry, exists := r.topics[qualified]
	r.structMu.RUnlock()
	if !exists {
		r.logger.Info("config watch: ignoring edit for unknown topic", "topic", qualified)
		return
	}

	entry.mu.Lock()
	entry.topic = topic
	entry.mu.Unlock()

	if err := r.validator.RegisterSchemas(qualified, topic.Schemas); err != nil {
		r.logger.Warn("config watch: schema compilation failed", "topic", qualified, "error", err)
		return
	}
	r.logger.Info("config watch: reloaded topic from external edit", "topic", qualified)
}
