package eventlog

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/riftstore/eventstore/internal/scope"
)

// topicDir returns "<dataDir>/<scope?>/<topic>" (spec.md §6.2).
func (s *Store) topicDir(sc scope.Scope, topic string) string {
	dir := sc.Dir()
	if dir == "" {
		return filepath.Join(s.dataDir, topic)
	}
	return filepath.Join(s.dataDir, dir, topic)
}

// eventPath returns the full sharded path for one event:
// "<dataDir>/<scope?>/<topic>/<YYYY-MM-DD>/<NNNN>/<topic>-<sequence>.json",
// where <NNNN> is floor(sequence/1000) zero-padded to 4 digits.
func (s *Store) eventPath(sc scope.Scope, topic string, seq uint64, ts time.Time) string {
	date := ts.UTC().Format("2006-01-02")
	bucket := fmt.Sprintf("%04d", seq/1000)
	filename := fmt.Sprintf("%s-%d.json", topic, seq)
	return filepath.Join(s.topicDir(sc, topic), date, bucket, filename)
}
