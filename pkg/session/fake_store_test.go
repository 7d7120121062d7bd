package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeStore is an in-memory Store that counts calls.
type fakeStore struct {
	mu        sync.Mutex
	records   map[string][]Turn
	loads     map[string]int
	saves     map[string]int
	loadDelay time.Duration
	loadErr   error
	saveErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[string][]Turn),
		loads:   make(map[string]int),
		saves:   make(map[string]int),
	}
}

func (f *fakeStore) Load(_ context.Context, userID string) ([]Turn, error) {
	f.mu.Lock()
	f.loads[userID]++
	delay := f.loadDelay
	err := f.loadErr
	turns := cloneTurns(f.records[userID])
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load", UserID: userID, Err: err}
	}
	return turns, nil
}

func (f *fakeStore) Save(_ context.Context, userID string, turns []Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves[userID]++
	if f.saveErr != nil {
		return &PersistenceError{Op: "save", UserID: userID, Err: f.saveErr}
	}
	f.records[userID] = cloneTurns(turns)
	return nil
}

func (f *fakeStore) setSaveErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveErr = err
}

func (f *fakeStore) setLoadErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadErr = err
}

func (f *fakeStore) loadCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads[userID]
}

func (f *fakeStore) saveCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves[userID]
}

func (f *fakeStore) record(userID string) ([]Turn, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	turns, ok := f.records[userID]
	return cloneTurns(turns), ok
}

var errDiskFull = errors.New("no space left on device")

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
