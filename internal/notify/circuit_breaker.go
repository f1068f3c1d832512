package notify

import (
	"sync"
	"time"
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case circuitClosed:
		return "closed"
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig tunes the per-channel circuit breakers
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // half-open successes before closing
	Cooldown         time.Duration // open duration before a half-open probe
}

func (c *BreakerConfig) setDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
}

type breaker struct {
	state     circuitState
	failures  int
	successes int
	changedAt time.Time
}

// breakers holds one circuit per channel so a dead endpoint does not stall
// deliveries to healthy ones.
type breakers struct {
	mu     sync.Mutex
	cfg    BreakerConfig
	now    func() time.Time
	byChan map[string]*breaker
}

func newBreakers(cfg BreakerConfig, now func() time.Time) *breakers {
	cfg.setDefaults()
	return &breakers{cfg: cfg, now: now, byChan: make(map[string]*breaker)}
}

func (b *breakers) get(channelID string) *breaker {
	br, ok := b.byChan[channelID]
	if !ok {
		br = &breaker{changedAt: b.now()}
		b.byChan[channelID] = br
	}
	return br
}

// allow reports whether a delivery to channelID may be attempted
func (b *breakers) allow(channelID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.get(channelID)
	if br.state != circuitOpen {
		return true
	}
	if b.now().Sub(br.changedAt) >= b.cfg.Cooldown {
		br.state = circuitHalfOpen
		br.failures, br.successes = 0, 0
		br.changedAt = b.now()
		return true
	}
	return false
}

func (b *breakers) success(channelID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.get(channelID)
	switch br.state {
	case circuitClosed:
		br.failures = 0
	case circuitHalfOpen:
		br.successes++
		if br.successes >= b.cfg.SuccessThreshold {
			br.state = circuitClosed
			br.failures, br.successes = 0, 0
			br.changedAt = b.now()
		}
	}
}

func (b *breakers) failure(channelID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.get(channelID)
	br.failures++
	switch br.state {
	case circuitClosed:
		if br.failures >= b.cfg.FailureThreshold {
			br.state = circuitOpen
			br.changedAt = b.now()
		}
	case circuitHalfOpen:
		br.state = circuitOpen
		br.successes = 0
		br.changedAt = b.now()
	}
}

func (b *breakers) state(channelID string) circuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.get(channelID).state
}
