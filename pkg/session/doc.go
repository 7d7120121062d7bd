// Package session keeps each user's bounded conversation history in memory
// and persists it to one JSON file per user.
//
// Invariants:
// - A session never holds more than MaxMessages turns; the oldest turn is dropped first.
// - At most one live Session exists per user id; the first touch loads the durable record exactly once.
// - Persistence I/O for a user runs under that user's lock, never under the cache-wide lock.
// - An idle session is evicted only after its history was saved, and only if it is still idle at eviction time.
// - Corrupt durable records are treated as empty history.
//
// Usage:
//
//	store, _ := session.NewFileStore("/var/lib/abitur/sessions", 5)
//	cache := session.NewCache(store, session.CacheConfig{MaxMessages: 5})
//	sweeper := session.NewSweeper(cache, session.SweeperConfig{Timeout: 15 * time.Minute, Interval: time.Minute})
//	_ = sweeper.Start()
//	defer sweeper.Stop()
//
//	_, _ = cache.AppendUserTurn(ctx, "42", "Какие документы нужны?")
package session
