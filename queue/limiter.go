package queue

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Limit defines per-queue rate limiting and concurrency.
type Limit struct {
	// QueueName is the queue this limit applies to.
	QueueName string

	// RatePerSecond is the maximum sustained deliveries per second
	// handed to handlers from this queue. Zero disables rate limiting.
	RatePerSecond float64

	// Burst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RatePerSecond is set but Burst is zero.
	Burst int

	// MaxConcurrency limits how many deliveries from this queue may be
	// handled simultaneously by the local consumer. Zero means no
	// queue-specific limit (consumer-wide concurrency still applies).
	MaxConcurrency int
}

// DeploymentLimit defines rate limiting and concurrency for a specific
// deployment on a specific queue, identified by the envelope's
// deploymentId metadata.
type DeploymentLimit struct {
	QueueName    string
	DeploymentID string

	RatePerSecond  float64
	Burst          int
	MaxConcurrency int
}

// limitState tracks runtime state for one queue or queue+deployment.
type limitState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func newLimitState(ratePerSecond float64, burst, maxConcurrency int) *limitState {
	s := &limitState{maxConcurrency: maxConcurrency}
	if ratePerSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}

	return s
}

// allow checks the rate limiter and concurrency gate without
// incrementing.
func (s *limitState) allow() bool {
	if s.limiter != nil && !s.limiter.Allow() {
		return false
	}
	if s.maxConcurrency > 0 && s.active >= s.maxConcurrency {
		return false
	}

	return true
}

// Limiter gates deliveries per queue and per deployment. It is safe for
// concurrent use.
type Limiter struct {
	mu          sync.Mutex
	queues      map[string]*limitState
	deployments map[string]*limitState
}

// NewLimiter creates a Limiter with the given queue limits. Queues not
// listed here have no limits.
func NewLimiter(limits ...Limit) *Limiter {
	l := &Limiter{
		queues:      make(map[string]*limitState, len(limits)),
		deployments: make(map[string]*limitState),
	}
	for _, lim := range limits {
		l.queues[lim.QueueName] = newLimitState(lim.RatePerSecond, lim.Burst, lim.MaxConcurrency)
	}

	return l
}

// SetLimit dynamically updates (or creates) a queue limit. The current
// active count is preserved when reconfiguring.
func (l *Limiter) SetLimit(lim Limit) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := newLimitState(lim.RatePerSecond, lim.Burst, lim.MaxConcurrency)
	if existing := l.queues[lim.QueueName]; existing != nil {
		s.active = existing.active
	}
	l.queues[lim.QueueName] = s
}

// SetDeploymentLimit configures limits for a specific deployment on a
// specific queue. Calling this again for the same pair replaces the
// previous configuration, preserving the active count.
func (l *Limiter) SetDeploymentLimit(lim DeploymentLimit) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := deploymentKey(lim.QueueName, lim.DeploymentID)
	s := newLimitState(lim.RatePerSecond, lim.Burst, lim.MaxConcurrency)
	if existing := l.deployments[key]; existing != nil {
		s.active = existing.active
	}
	l.deployments[key] = s
}

// Acquire checks rate limits and concurrency for the given queue and
// deployment. If the delivery may proceed it increments the active
// counters and returns true. The caller MUST call Release when handling
// completes.
func (l *Limiter) Acquire(queueName, deploymentID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	qs := l.queues[queueName]
	if qs != nil && !qs.allow() {
		return false
	}

	var ds *limitState
	if deploymentID != "" {
		ds = l.deployments[deploymentKey(queueName, deploymentID)]
		if ds != nil && !ds.allow() {
			return false
		}
	}

	if qs != nil {
		qs.active++
	}
	if ds != nil {
		ds.active++
	}

	return true
}

// Release decrements the active counters for the queue and deployment.
func (l *Limiter) Release(queueName, deploymentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if qs := l.queues[queueName]; qs != nil && qs.active > 0 {
		qs.active--
	}

	if deploymentID != "" {
		if ds := l.deployments[deploymentKey(queueName, deploymentID)]; ds != nil && ds.active > 0 {
			ds.active--
		}
	}
}

// ActiveCount returns the current number of in-flight deliveries for a
// queue.
func (l *Limiter) ActiveCount(queueName string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if qs := l.queues[queueName]; qs != nil {
		return qs.active
	}

	return 0
}

func deploymentKey(queueName, deploymentID string) string {
	return fmt.Sprintf("%s:%s", queueName, deploymentID)
}
