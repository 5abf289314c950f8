package http

import (
	"sync"
	"time"
)

// requestLimiter throttles write requests per client IP with a fixed
// one-minute window.
type requestLimiter struct {
	mu        sync.Mutex
	perMinute int
	clients   map[string]*clientWindow

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

type clientWindow struct {
	lastSeen time.Time
	count    int
}

func newRequestLimiter(perMinute int) *requestLimiter {
	rl := &requestLimiter{
		perMinute:   perMinute,
		clients:     make(map[string]*clientWindow),
		stopCleanup: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// allow reports whether a request from the client may proceed.
func (rl *requestLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	c, ok := rl.clients[clientIP]
	if !ok || now.Sub(c.lastSeen) > time.Minute {
		rl.clients[clientIP] = &clientWindow{lastSeen: now, count: 1}
		return true
	}

	c.count++
	c.lastSeen = now
	return c.count <= rl.perMinute
}

func (rl *requestLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.dropStale()
		case <-rl.stopCleanup:
			return
		}
	}
}

// dropStale forgets clients idle for more than ten minutes.
func (rl *requestLimiter) dropStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *requestLimiter) stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}
