package provider

import (
	"errors"
	"sync"

	"marketvault/internal/util"
)

// unhealthyAfter is the consecutive-failure streak past which an adapter
// reports itself unhealthy.
const unhealthyAfter = 5

// errThrottled reports that no rate-limit token was available for a call.
// A concurrent worker can drain the last token between the pool's ranking
// pass and the fetch; the pool skips the adapter without a metrics penalty,
// same as if it had been excluded up front.
var errThrottled = errors.New("rate limit exhausted")

// adapterState carries the health and rate-limit bookkeeping every concrete
// adapter embeds. Failure streaks are tracked by the adapter itself so
// Health() answers without consulting the pool.
type adapterState struct {
	limiter *util.RateLimiter

	mu             sync.Mutex
	consecFailures int
}

func newAdapterState(ratePerMin, burst int) adapterState {
	return adapterState{limiter: util.NewRateLimiter(ratePerMin, burst)}
}

// recordOutcome updates the failure streak after a fetch attempt.
func (s *adapterState) recordOutcome(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.consecFailures++
	} else {
		s.consecFailures = 0
	}
}

// Health reports whether the adapter looks usable and its failure streak.
func (s *adapterState) Health() (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecFailures < unhealthyAfter, s.consecFailures
}

// RateLimit reports remaining tokens and whether the adapter is throttled.
func (s *adapterState) RateLimit() (int, bool) {
	remaining := s.limiter.Remaining()
	return remaining, remaining < 1
}

// take consumes one rate-limit token, reporting false when throttled.
func (s *adapterState) take() bool {
	return s.limiter.TryTake()
}
