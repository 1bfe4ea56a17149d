package indexer

import (
	"sync"

	"github.com/dshills/sessionindex/internal/detector"
	"github.com/dshills/sessionindex/pkg/types"
)

type fileKey struct {
	source types.Source
	path   string
}

// attemptLog remembers parses that left nothing in the index, so the detector
// can throttle files that keep failing or are not sessions. It lives in memory
// only; a restart forgets it.
type attemptLog struct {
	mu       sync.Mutex
	attempts map[fileKey]detector.Attempt
}

func newAttemptLog() *attemptLog {
	return &attemptLog{attempts: make(map[fileKey]detector.Attempt)}
}

func (a *attemptLog) last(src types.Source, path string) *detector.Attempt {
	a.mu.Lock()
	defer a.mu.Unlock()
	at, ok := a.attempts[fileKey{src, path}]
	if !ok {
		return nil
	}
	return &at
}

func (a *attemptLog) record(src types.Source, path string, at detector.Attempt) {
	a.mu.Lock()
	a.attempts[fileKey{src, path}] = at
	a.mu.Unlock()
}

func (a *attemptLog) clear(src types.Source, path string) {
	a.mu.Lock()
	delete(a.attempts, fileKey{src, path})
	a.mu.Unlock()
}

// retain drops every attempt of src whose path is not in keep. A nil keep
// drops them all.
func (a *attemptLog) retain(src types.Source, keep map[string]struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k := range a.attempts {
		if k.source != src {
			continue
		}
		if _, ok := keep[k.path]; !ok {
			delete(a.attempts, k)
		}
	}
}

func (a *attemptLog) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.attempts)
}
