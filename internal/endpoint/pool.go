package endpoint

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"signalflow/logger"
)

const (
	// DefaultFailureThreshold is how many reported failures place an
	// endpoint in cooldown.
	DefaultFailureThreshold = 3
	// DefaultCooldownPeriod is how long a tripped endpoint stays excluded
	// from selection.
	DefaultCooldownPeriod = 600 * time.Second
	// Rotation interval bounds for the current-endpoint pointer.
	DefaultRotateMin = 120 * time.Second
	DefaultRotateMax = 300 * time.Second
)

// Pool tracks a set of interchangeable network endpoints and hides
// individual flakiness behind a uniform "give me a healthy endpoint" call.
// Endpoints that keep failing are placed on cooldown and excluded from
// selection until the cooldown expires.
//
// The failure counter is deliberately NOT cleared when a cooldown expires:
// a rehabilitated endpoint that fails once more re-trips its cooldown
// immediately. Flaky infrastructure earns back trust slowly.
type Pool struct {
	failureThreshold int
	cooldownPeriod   time.Duration
	rotateMin        time.Duration
	rotateMax        time.Duration

	mu         sync.Mutex
	endpoints  []string
	failures   map[string]int
	cooldowns  map[string]time.Time
	current    string
	backupMode bool

	log  *logger.Log
	now  func() time.Time
	rand *rand.Rand
}

// NewPool constructs an empty pool; call Load to install the working set.
// Non-positive arguments use the defaults.
func NewPool(failureThreshold int, cooldownPeriod, rotateMin, rotateMax time.Duration) *Pool {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if cooldownPeriod <= 0 {
		cooldownPeriod = DefaultCooldownPeriod
	}
	if rotateMin <= 0 {
		rotateMin = DefaultRotateMin
	}
	if rotateMax < rotateMin {
		rotateMax = DefaultRotateMax
		if rotateMax < rotateMin {
			rotateMax = rotateMin
		}
	}
	return &Pool{
		failureThreshold: failureThreshold,
		cooldownPeriod:   cooldownPeriod,
		rotateMin:        rotateMin,
		rotateMax:        rotateMax,
		failures:         make(map[string]int),
		cooldowns:        make(map[string]time.Time),
		log:              logger.GetLogger(),
		now:              time.Now,
		rand:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Load replaces the working set and selects an initial current endpoint.
// Failure and cooldown state for URLs that survive the reload is retained.
func (p *Pool) Load(urls []string) {
	p.mu.Lock()
	p.endpoints = append([]string(nil), urls...)
	if len(p.endpoints) > 0 {
		p.current = p.endpoints[0]
	} else {
		p.current = ""
	}
	count := len(p.endpoints)
	p.mu.Unlock()

	p.log.WithComponent("endpoint_pool").WithFields(logger.Fields{
		"endpoints": count,
	}).Info("endpoint pool loaded")
}

// GetRandom returns a uniformly random endpoint excluding those currently
// in cooldown. When every endpoint is cooling down the full pool is used as
// a fallback; an empty pool yields "". Callers treat "" as "try again
// later" — selection never fails with an error.
func (p *Pool) GetRandom() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pickLocked()
}

func (p *Pool) pickLocked() string {
	now := p.now()
	available := make([]string, 0, len(p.endpoints))
	for _, url := range p.endpoints {
		if expiry, cooling := p.cooldowns[url]; cooling && now.Before(expiry) {
			continue
		}
		available = append(available, url)
	}
	if len(available) == 0 {
		if len(p.endpoints) == 0 {
			return ""
		}
		p.log.WithComponent("endpoint_pool").Warn("no healthy endpoints available, falling back to full pool")
		available = p.endpoints
	}
	return available[p.rand.Intn(len(available))]
}

// ReportFailure increments an endpoint's failure counter and places it on
// cooldown once the counter reaches the threshold. Unknown or empty URLs
// are ignored.
func (p *Pool) ReportFailure(url string) {
	if url == "" {
		return
	}
	p.mu.Lock()
	p.failures[url]++
	tripped := p.failures[url] >= p.failureThreshold
	if tripped {
		p.cooldowns[url] = p.now().Add(p.cooldownPeriod)
	}
	p.mu.Unlock()

	if tripped {
		p.log.WithComponent("endpoint_pool").WithFields(logger.Fields{
			"endpoint": url,
			"cooldown": p.cooldownPeriod,
		}).Warn("endpoint placed on cooldown")
	}
}

// CleanupCooldowns purges cooldown entries whose expiry has passed, making
// those endpoints eligible for selection again.
func (p *Pool) CleanupCooldowns() {
	now := p.now()
	var expired []string

	p.mu.Lock()
	for url, expiry := range p.cooldowns {
		if now.After(expiry) {
			delete(p.cooldowns, url)
			expired = append(expired, url)
		}
	}
	p.mu.Unlock()

	for _, url := range expired {
		p.log.WithComponent("endpoint_pool").WithFields(logger.Fields{
			"endpoint": url,
		}).Info("endpoint cooldown expired")
	}
}

// Current returns the stable endpoint pointer maintained by RotationLoop,
// for consumers that want one endpoint rather than a fresh random pick per
// call.
func (p *Pool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == "" && len(p.endpoints) > 0 {
		return p.endpoints[0]
	}
	return p.current
}

// SetBackupMode switches the rotation cadence. While the primary feed is
// healthy rotation is a low-frequency no-op; as the backup ingestion path
// the pool rotates through healthy endpoints at full cadence.
func (p *Pool) SetBackupMode(active bool) {
	p.mu.Lock()
	p.backupMode = active
	p.mu.Unlock()
}

// Counts returns the total and in-cooldown endpoint counts.
func (p *Pool) Counts() (total, cooling int) {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, expiry := range p.cooldowns {
		if now.Before(expiry) {
			cooling++
		}
	}
	return len(p.endpoints), cooling
}

// RotationLoop periodically re-points Current at a healthy endpoint. The
// interval is randomized between the configured bounds; in primary mode it
// pins the first endpoint and sleeps the maximum.
func (p *Pool) RotationLoop(ctx context.Context) {
	log := p.log.WithComponent("endpoint_pool")
	log.Info("endpoint rotation loop started")

	for {
		p.CleanupCooldowns()

		p.mu.Lock()
		backup := p.backupMode
		var sleep time.Duration
		var rotated string
		if !backup {
			// Primary ingestion streams; it does not need RPC rotation.
			if len(p.endpoints) > 0 {
				p.current = p.endpoints[0]
			}
			sleep = p.rotateMax
		} else {
			p.current = p.pickLocked()
			rotated = p.current
			span := p.rotateMax - p.rotateMin
			sleep = p.rotateMin
			if span > 0 {
				sleep += time.Duration(p.rand.Int63n(int64(span)))
			}
		}
		p.mu.Unlock()

		if backup {
			log.WithFields(logger.Fields{"endpoint": rotated}).Info("rotated to new endpoint")
		}

		select {
		case <-ctx.Done():
			log.Info("endpoint rotation loop stopped")
			return
		case <-time.After(sleep):
		}
	}
}
