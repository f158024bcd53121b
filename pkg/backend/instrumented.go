package backend

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"jjcore/pkg/ids"
)

// WriteStats tracks Put-call outcomes for an InstrumentedStore.
type WriteStats struct {
	TotalPuts        int
	ActualWrites     int
	DeduplicatedPuts int
}

// InstrumentedStore wraps a Store to track write/dedup statistics and log
// them in human-readable form via LogSummary.
//
// Adapted from pkg/cas/tracking_cas.go's TrackingCAS, which existed only
// to assert on structural-sharing efficiency in tests; this version adds
// the logging summary. No other package in this module wraps its store
// with it.
type InstrumentedStore struct {
	inner Store
	hash  ids.HashFunc
	log   *logrus.Entry

	mu    sync.Mutex
	stats WriteStats
}

// NewInstrumentedStore wraps inner, hashing payloads with hash purely for
// pre-write dedup accounting (the wrapped store computes its own hash
// independently when it performs the Put).
func NewInstrumentedStore(inner Store, hash ids.HashFunc, log *logrus.Entry) *InstrumentedStore {
	return &InstrumentedStore{inner: inner, hash: hash, log: log}
}

func (s *InstrumentedStore) Put(data []byte) (ids.Id, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existedBefore := s.inner.Has(s.hash(data))

	id, err := s.inner.Put(data)
	if err != nil {
		return id, err
	}

	s.stats.TotalPuts++
	if existedBefore {
		s.stats.DeduplicatedPuts++
	} else {
		s.stats.ActualWrites++
	}
	return id, nil
}

func (s *InstrumentedStore) Get(id ids.Id) ([]byte, error) { return s.inner.Get(id) }
func (s *InstrumentedStore) Has(id ids.Id) bool            { return s.inner.Has(id) }
func (s *InstrumentedStore) Close() error                  { return s.inner.Close() }

// Stats returns a copy of the current write statistics.
func (s *InstrumentedStore) Stats() WriteStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// LogSummary emits a human-readable summary of accumulated stats.
func (s *InstrumentedStore) LogSummary(context string) {
	st := s.Stats()
	s.log.WithFields(logrus.Fields{
		"context":       context,
		"total_puts":    humanize.Comma(int64(st.TotalPuts)),
		"actual_writes": humanize.Comma(int64(st.ActualWrites)),
	}).Debug("object store write summary")
}
