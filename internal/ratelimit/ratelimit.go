package ratelimit

import (
	"sync"
	"time"
)

const DefaultDailyLimit = 3

// Limiter caps publish attempts per calendar day of its reference location.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	loc    *time.Location
	count  int
	dayKey string
}

func New(limit int, loc *time.Location) *Limiter {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	if loc == nil {
		loc = time.Local
	}
	return &Limiter{limit: limit, loc: loc}
}

func (l *Limiter) Limit() int {
	return l.limit
}

// TryConsume takes one slot for the day of now and returns the key of that
// day. It returns false without mutating the counter when the day's quota is
// already used up.
func (l *Limiter) TryConsume(now time.Time) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover(now)
	if l.count >= l.limit {
		return "", false
	}
	l.count++
	return l.dayKey, true
}

// Release gives back a slot taken on the day identified by dayKey. Slots of
// any other day are ignored, so a late release never credits the current day.
func (l *Limiter) Release(dayKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if dayKey == "" || dayKey != l.dayKey {
		return
	}
	if l.count > 0 {
		l.count--
	}
}

func (l *Limiter) Remaining(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover(now)
	return l.limit - l.count
}

// DayKey returns the calendar day of now in the reference location.
func (l *Limiter) DayKey(now time.Time) string {
	return now.In(l.loc).Format(time.DateOnly)
}

// rollover resets the counter when now falls on a different day than the
// stored key.
func (l *Limiter) rollover(now time.Time) {
	key := l.DayKey(now)
	if key == l.dayKey {
		return
	}
	l.dayKey = key
	l.count = 0
}
