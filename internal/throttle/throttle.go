// Package throttle implements the broker's admission control over
// concurrent login attempts: an SSH-style three-parameter (begin, rate,
// max) probabilistic drop, distinct from the reference stack's sliding-
// window per-identity rate limiter (internal/ipc/ratelimit.go) — that one
// counts attempts per UID over a time window, this one admits or rejects
// based purely on how many logins are in flight right now, with no notion
// of identity or window at all. The two don't share code because they
// don't share an algorithm, only a name.
package throttle

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
)

// Default parameters used whenever configuration is absent or invalid.
const (
	DefaultBegin = 10
	DefaultRate  = 100
	DefaultMax   = 10
)

// Throttle tracks in-flight login attempts and decides admission.
type Throttle struct {
	mu    sync.Mutex
	begin int
	rate  int
	max   int
	flight int
}

// New creates a Throttle with explicit parameters. Use ParseMaxStartups to
// build one from a "B:R:M"-shaped configuration string.
func New(begin, rate, max int) *Throttle {
	return &Throttle{begin: begin, rate: rate, max: max}
}

// ParseMaxStartups parses the "MaxStartups" configuration value.
//   - "V"     -> begin = max = V, rate = 100
//   - "B:M"   -> begin = B, max = M, rate = 100
//   - "B:R:M" -> begin = B, rate = R, max = M
//
// Any parse failure, or values violating begin <= max and 1 <= rate <= 100,
// reverts all three parameters to the package defaults and returns an error
// describing why (the caller is expected to log it as a warning and
// continue with the defaults, per the spec).
func ParseMaxStartups(s string) (begin, rate, max int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")

	defaultsWithErr := func(e error) (int, int, int, error) {
		return DefaultBegin, DefaultRate, DefaultMax, e
	}

	switch len(parts) {
	case 1:
		v, e := strconv.Atoi(parts[0])
		if e != nil {
			return defaultsWithErr(fmt.Errorf("throttle: invalid MaxStartups %q: %w", s, e))
		}
		begin, rate, max = v, 100, v
	case 2:
		b, e1 := strconv.Atoi(parts[0])
		m, e2 := strconv.Atoi(parts[1])
		if e1 != nil || e2 != nil {
			return defaultsWithErr(fmt.Errorf("throttle: invalid MaxStartups %q", s))
		}
		begin, rate, max = b, 100, m
	case 3:
		b, e1 := strconv.Atoi(parts[0])
		r, e2 := strconv.Atoi(parts[1])
		m, e3 := strconv.Atoi(parts[2])
		if e1 != nil || e2 != nil || e3 != nil {
			return defaultsWithErr(fmt.Errorf("throttle: invalid MaxStartups %q", s))
		}
		begin, rate, max = b, r, m
	default:
		return defaultsWithErr(fmt.Errorf("throttle: invalid MaxStartups %q: expected 1-3 colon-separated values", s))
	}

	if begin > max || rate < 1 || rate > 100 {
		return defaultsWithErr(fmt.Errorf("throttle: MaxStartups %q violates begin<=max, 1<=rate<=100", s))
	}

	return begin, rate, max, nil
}

// NewFromConfig builds a Throttle from a "B:R:M" string, falling back to
// defaults (and surfacing the parse error so the caller can log it) on any
// invalid input.
func NewFromConfig(s string) (*Throttle, error) {
	begin, rate, max, err := ParseMaxStartups(s)
	return New(begin, rate, max), err
}

// Begin registers the start of a new login attempt and returns whether it
// is admitted. Every call to Begin that returns true, and every call to
// Begin that returns false, must eventually be paired with exactly one
// Finalize call once (spec invariant I2: in_flight_logins equals the number
// of begins not yet finalized — the throttle itself counts an attempt
// in-flight from Begin through Finalize regardless of the admission
// verdict, mirroring the spec's explicit "in_flight is decremented on any
// finalize (success or failure)", including throttle rejections).
func (t *Throttle) Begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	// admit is evaluated against the count of attempts already in flight,
	// before this one joins them — matching sshd's own MaxStartups
	// algorithm, where the Nth connection is judged against N-1 prior ones.
	admitted := t.admit(t.flight)
	t.flight++
	return admitted
}

// Finalize must be called exactly once for every Begin, once that attempt
// has produced a final verdict (success, failure, or prompt) — a prompt
// that suspends the conversation finalizes it; the matching resume is not
// re-admitted and does not finalize again.
func (t *Throttle) Finalize() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.flight > 0 {
		t.flight--
	}
}

// InFlight returns the current number of outstanding login attempts.
func (t *Throttle) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flight
}

// admit implements the admission decision from the spec (§4.6). Caller
// holds t.mu.
func (t *Throttle) admit(flight int) bool {
	if t.max == 0 {
		return true
	}
	if flight < t.begin {
		return true
	}
	if flight >= t.max {
		return false
	}

	span := t.max - t.begin
	var p float64
	if span <= 0 {
		p = float64(t.rate)
	} else {
		p = float64(t.rate) + float64(100-t.rate)*float64(flight-t.begin)/float64(span)
	}

	r := rand.IntN(100)
	return float64(r) >= p
}
