package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/riftstore/eventstore/internal/eventstore"
	"github.com/riftstore/eventstore/internal/scope"
)

// configPath returns the on-disk path for a topic's config file (spec.md
// §4.2, §6.2): "<configDir>/<scope?>/<name>.json", flat for the default
// scope.
func (r *Registry) configPath(sc scope.Scope, name string) string {
	dir := sc.Dir()
	if dir == "" {
		return filepath.Join(r.configDir, name+".json")
	}
	return filepath.Join(r.configDir, dir, name+".json")
}

// persist writes entry's current topic to disk for the first time, failing
// if the file already exists (mirrors the event log's create-new-exclusive
// discipline so two concurrent CreateTopic calls for the same name can
// never silently clobber one another).
func (r *Registry) persist(entry *topicEntry) error {
	path := r.configPath(entry.scope, entry.topic.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(entry.topic, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling topic config: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: config file already exists at %s", eventstore.ErrTopicAlreadyExists, path)
		}
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return f.Sync()
}

// persistLocked overwrites an existing topic's config file via
// write-temp-then-rename, which is atomic on the same filesystem. Called
// with entry.mu held by the caller (updateSchemas, getAndIncrementSequence):
// both mutate and durably persist the same file under the same lock.
func (r *Registry) persistLocked(sc scope.Scope, topic eventstore.Topic) error {
	path := r.configPath(sc, topic.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(topic, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling topic config: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating temp config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing temp config file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing temp config file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing temp config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming temp config file: %w", err)
	}
	return nil
}

// LoadAll walks configDir and loads every topic config file found,
// reconstructing the in-memory registry and re-registering every topic's
// schemas with the Validator. Call once at startup before serving traffic.
func (r *Registry) LoadAll() error {
	if err := os.MkdirAll(r.configDir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return filepath.WalkDir(r.configDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		var topic eventstore.Topic
		if err := json.Unmarshal(data, &topic); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}

		sc, err := scopeFromConfigPath(r.configDir, path, topic.Name)
		if err != nil {
			return err
		}

		qualified := sc.Qualify(topic.Name)
		r.structMu.Lock()
		r.topics[qualified] = &topicEntry{scope: sc, topic: topic}
		r.structMu.Unlock()

		if err := r.validator.RegisterSchemas(qualified, topic.Schemas); err != nil {
			r.logger.Warn("schema compilation failed while loading topic", "topic", qualified, "error", err)
		}
		r.logger.Info("topic loaded", "topic", qualified, "sequence", topic.Sequence)
		return nil
	})
}

// scopeFromConfigPath reconstructs the Scope a topic config file belongs to
// from its path relative to configDir. A flat "<configDir>/<name>.json" path
// is the default scope; "<configDir>/<tenant>/<namespace>/<name>.json" is a
// tenant-scoped topic.
func scopeFromConfigPath(configDir, path, name string) (scope.Scope, error) {
	rel, err := filepath.Rel(configDir, path)
	if err != nil {
		return scope.Scope{}, fmt.Errorf("computing relative config path: %w", err)
	}
	rel = filepath.ToSlash(rel)
	expected := name + ".json"
	switch {
	case rel == expected:
		return scope.Default(), nil
	default:
		dir := filepath.Dir(rel)
		var parts []string
		for _, seg := range strings.Split(dir, "/") {
			if seg != "" && seg != "." {
				parts = append(parts, seg)
			}
		}
		if len(parts) != 2 {
			return scope.Scope{}, fmt.Errorf("unexpected config layout at %s", path)
		}
		return scope.Scope{Tenant: parts[0], Namespace: parts[1]}, nil
	}
}
