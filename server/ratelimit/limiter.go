package ratelimit

import (
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/pluginapi"
	"golang.org/x/time/rate"
)

// Category groups the requests that share a budget
type Category string

// Rate limited request categories
const (
	CategoryAlerts        Category = "alerts"
	CategorySOS           Category = "sos"
	CategoryVerifications Category = "verifications"
	CategoryAPI           Category = "api"
)

// Window is the period every default budget refills over
const Window = 15 * time.Minute

// CleanupInterval is how often idle buckets are dropped
const CleanupInterval = 5 * time.Minute

// Rule is a budget of Limit requests per Window
type Rule struct {
	Limit  int
	Window time.Duration
}

// DefaultRules are the per-user budgets for each category
var DefaultRules = map[Category]Rule{
	CategoryAlerts:        {Limit: 50, Window: Window},
	CategorySOS:           {Limit: 10, Window: Window},
	CategoryVerifications: {Limit: 30, Window: Window},
	CategoryAPI:           {Limit: 100, Window: Window},
}

type bucket struct {
	limiter  *rate.Limiter
	window   time.Duration
	lastSeen time.Time
}

type bucketKey struct {
	userID   string
	category Category
}

// Limiter is a token bucket per (user, category). A bucket refills its whole
// budget over the rule's window.
type Limiter struct {
	api     *pluginapi.Client
	rules   map[Category]Rule
	buckets map[bucketKey]*bucket
	mu      sync.Mutex
	now     func() time.Time

	stopCleanup chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once
}

// New creates a limiter and starts the cleanup loop. nil rules means DefaultRules.
func New(api *pluginapi.Client, rules map[Category]Rule) *Limiter {
	if rules == nil {
		rules = DefaultRules
	}

	l := &Limiter{
		api:         api,
		rules:       rules,
		buckets:     make(map[bucketKey]*bucket),
		now:         time.Now,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

// SetClock overrides the limiter clock (useful for testing)
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Allow consumes one token from the user's bucket for category.
// Categories without a rule are never limited.
func (l *Limiter) Allow(userID string, category Category) bool {
	rule, ok := l.rules[category]
	if !ok || rule.Limit <= 0 || rule.Window <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := bucketKey{userID: userID, category: category}
	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{
			limiter: rate.NewLimiter(rate.Every(rule.Window/time.Duration(rule.Limit)), rule.Limit),
			window:  rule.Window,
		}
		l.buckets[key] = b
	}
	b.lastSeen = now

	return b.limiter.AllowN(now, 1)
}

// cleanupLoop periodically drops idle buckets
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	defer close(l.cleanupDone)

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanup removes buckets idle for a full window. Such a bucket has refilled
// completely, so dropping it changes no decision.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	expired := 0

	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= b.window {
			delete(l.buckets, key)
			expired++
		}
	}

	if expired > 0 {
		l.api.Log.Debug("Cleaned up idle rate limit buckets",
			"expired", expired,
			"remaining", len(l.buckets))
	}
}

// Stop stops the cleanup goroutine and waits for it to finish
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCleanup)
	})
	<-l.cleanupDone
}
