// Package fakesource provides an in-memory exportsource.PagedSource for testing the composite
// without a database.
//
// A Source serves a fixed list of items, records every query it receives, and can be told to
// fail, to report a drifted count, or to deliver fewer items than asked for.
package fakesource

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
)

// ErrInjected is the default error a Source fails with when failure is switched on.
var ErrInjected = errors.New("injected source failure")

// Source is an in-memory PagedSource. It is safe for concurrent use.
type Source struct {
	name  string
	items exportsource.Exportables

	mu           sync.Mutex
	countErr     error
	fetchErr     error
	countDrift   int
	shortDeliver int
	delay        time.Duration
	countQueries []exportsource.ExportQuery
	fetchQueries []exportsource.ExportQuery

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

// New creates a Source with the given name serving the given items in order.
func New(name string, items exportsource.Exportables) *Source {
	return &Source{name: name, items: slices.Clone(items)}
}

// WithItemCount creates a Source with count generated items, see Items.
func WithItemCount(name string, count int) *Source {
	return New(name, Items(name, count))
}

// Items generates count exportables of the given object type with ids "<objectType>-<n>", n starting at 1.
func Items(objectType string, count int) exportsource.Exportables {
	items := make(exportsource.Exportables, 0, count)

	for n := 1; n <= count; n++ {
		id := fmt.Sprintf("%s-%d", objectType, n)
		item, err := exportsource.BuildExportable(objectType, id, []byte(fmt.Sprintf(`{"id":%q,"seq":%d}`, id, n)))
		if err != nil {
			panic(err) // only possible with a broken generator
		}

		items = append(items, item)
	}

	return items
}

func (s *Source) Name() string {
	return s.name
}

// TotalCount reports the number of items, matching the query's object ids if it has any.
func (s *Source) TotalCount(ctx context.Context, query exportsource.ExportQuery) (int, error) {
	s.mu.Lock()
	s.countQueries = append(s.countQueries, query.Clone())
	countErr, drift := s.countErr, s.countDrift
	s.mu.Unlock()

	if err := s.wait(ctx); err != nil {
		return 0, err
	}

	if countErr != nil {
		return 0, countErr
	}

	return len(s.filtered(query)) + drift, nil
}

// FetchPage returns up to query.Take items starting at query.Skip.
func (s *Source) FetchPage(ctx context.Context, query exportsource.ExportQuery) (exportsource.Exportables, error) {
	s.mu.Lock()
	s.fetchQueries = append(s.fetchQueries, query.Clone())
	fetchErr, short := s.fetchErr, s.shortDeliver
	s.mu.Unlock()

	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	if fetchErr != nil {
		return nil, fetchErr
	}

	items := s.filtered(query)
	if query.Take == 0 || query.Skip >= len(items) {
		return exportsource.Exportables{}, nil
	}

	end := min(len(items), query.Skip+query.Take)
	end = max(query.Skip, end-short)

	return slices.Clone(items[query.Skip:end]), nil
}

// wait tracks the number of concurrent calls and sleeps for the configured delay.
func (s *Source) wait(ctx context.Context) error {
	current := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	for {
		seen := s.maxInFlight.Load()
		if current <= seen || s.maxInFlight.CompareAndSwap(seen, current) {
			break
		}
	}

	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()

	if delay == 0 {
		return ctx.Err()
	}

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Source) filtered(query exportsource.ExportQuery) exportsource.Exportables {
	if !query.HasObjectIDs() {
		return s.items
	}

	filtered := make(exportsource.Exportables, 0)
	for _, item := range s.items {
		if slices.Contains(query.ObjectIDs, item.ObjectID) {
			filtered = append(filtered, item)
		}
	}

	return filtered
}

// FailCounting makes TotalCount fail with err, or with ErrInjected if err is nil.
func (s *Source) FailCounting(err error) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.countErr = orInjected(err)

	return s
}

// FailFetching makes FetchPage fail with err, or with ErrInjected if err is nil.
func (s *Source) FailFetching(err error) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetchErr = orInjected(err)

	return s
}

// Heal switches off all injected failures.
func (s *Source) Heal() *Source {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.countErr, s.fetchErr = nil, nil

	return s
}

// DriftCount adds drift to the reported count; a negative value makes the source under-report.
func (s *Source) DriftCount(drift int) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.countDrift = drift

	return s
}

// DeliverShort makes FetchPage return n items fewer than it could.
func (s *Source) DeliverShort(n int) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shortDeliver = n

	return s
}

// Delay makes every call block for d, or until the context is done.
func (s *Source) Delay(d time.Duration) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.delay = d

	return s
}

// CountQueries returns a copy of the queries TotalCount was called with.
func (s *Source) CountQueries() []exportsource.ExportQuery {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.countQueries)
}

// FetchQueries returns a copy of the queries FetchPage was called with.
func (s *Source) FetchQueries() []exportsource.ExportQuery {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.fetchQueries)
}

// MaxInFlight returns the highest number of concurrent calls observed.
func (s *Source) MaxInFlight() int {
	return int(s.maxInFlight.Load())
}

func orInjected(err error) error {
	if err == nil {
		return ErrInjected
	}

	return err
}

var _ exportsource.PagedSource = (*Source)(nil)
