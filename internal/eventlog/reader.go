package eventlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/riftstore/eventstore/internal/eventstore"
	"github.com/riftstore/eventstore/internal/scope"
)

// GetEvents implements the Event Store read path (spec.md §4.5): range
// queries over the sharded directory tree, returned in strictly ascending
// sequence order.
func (s *Store) GetEvents(sc scope.Scope, topic string, opts eventstore.ReadOptions) ([]eventstore.Event, error) {
	if !s.registry.TopicExists(sc, topic) {
		return nil, fmt.Errorf("%w: topic %q", eventstore.ErrTopicNotFound, topic)
	}
	if opts.HasLimit && opts.Limit <= 0 {
		return []eventstore.Event{}, nil
	}

	topicDir := s.topicDir(sc, topic)
	dateDirs, err := listSortedDirNames(topicDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []eventstore.Event{}, nil
		}
		return nil, fmt.Errorf("%w: listing topic directory: %v", eventstore.ErrInternal, err)
	}

	events := make([]eventstore.Event, 0)
	for _, date := range dateDirs {
		if opts.Date != "" && date != opts.Date {
			continue
		}

		dateDir := filepath.Join(topicDir, date)
		bucketDirs, err := listSortedDirNames(dateDir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("%w: listing date directory: %v", eventstore.ErrInternal, err)
		}

		for _, bucket := range bucketDirs {
			bucketDir := filepath.Join(dateDir, bucket)
			files, err := eventFilesSortedBySequence(bucketDir, topic)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				return nil, fmt.Errorf("%w: listing bucket directory: %v", eventstore.ErrInternal, err)
			}

			for _, f := range files {
				if f.seq <= opts.SinceID {
					continue
				}
				event, err := readEventFile(filepath.Join(bucketDir, f.name))
				if err != nil {
					return nil, fmt.Errorf("%w: reading event file: %v", eventstore.ErrInternal, err)
				}
				events = append(events, event)
				if opts.HasLimit && len(events) >= opts.Limit {
					if s.metrics != nil {
						s.metrics.RecordRead(topic, len(events))
					}
					return events, nil
				}
			}
		}
	}

	if s.metrics != nil {
		s.metrics.RecordRead(topic, len(events))
	}
	return events, nil
}

func readEventFile(path string) (eventstore.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return eventstore.Event{}, err
	}
	var event eventstore.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return eventstore.Event{}, err
	}
	return event, nil
}

// listSortedDirNames returns the immediate subdirectories of dir, sorted
// lexicographically. Date directories ("YYYY-MM-DD") and zero-padded bucket
// directories ("NNNN") both sort chronologically/numerically under plain
// lexicographic order.
func listSortedDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

type eventFile struct {
	name string
	seq  uint64
}

// eventFilesSortedBySequence lists a bucket directory's event files sorted
// by their embedded sequence number. Filenames are "<topic>-<sequence>.json"
// and sequence is not zero-padded, so a plain lexicographic sort would put
// "topic-10.json" before "topic-2.json" — sort by the parsed number
// instead.
func eventFilesSortedBySequence(dir, topic string) ([]eventFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make([]eventFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		seq, ok := parseSequence(e.Name(), topic)
		if !ok {
			continue
		}
		files = append(files, eventFile{name: e.Name(), seq: seq})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].seq < files[j].seq })
	return files, nil
}

func parseSequence(filename, topic string) (uint64, bool) {
	if !strings.HasSuffix(filename, ".json") {
		return 0, false
	}
	prefix := topic + "-"
	if !strings.HasPrefix(filename, prefix) {
		return 0, false
	}
	numPart := strings.TrimSuffix(strings.TrimPrefix(filename, prefix), ".json")
	seq, err := strconv.ParseUint(numPart, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}
