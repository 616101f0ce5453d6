package live

import "time"

// ReconnectPolicy bounds automatic recovery.
type ReconnectPolicy struct {
	// Enabled allows reconnecting after an unannounced transport loss. A
	// GoAway that invites reconnection is honored regardless.
	Enabled     bool
	MaxAttempts int
	// Delay is waited before retrying after a failed attempt or a loss.
	// GoAway supplies its own delay.
	Delay time.Duration
}

// reconnector counts attempts and owns the pending retry timer. It is
// guarded by the session mutex.
type reconnector struct {
	policy   ReconnectPolicy
	attempts int
	timer    *time.Timer
}

// next records a new attempt and reports whether it is within budget.
func (r *reconnector) next() (int, bool) {
	r.attempts++
	return r.attempts, r.attempts <= r.policy.MaxAttempts
}

func (r *reconnector) reset() { r.attempts = 0 }

func (r *reconnector) schedule(d time.Duration, fn func()) {
	r.cancel()
	r.timer = time.AfterFunc(d, fn)
}

func (r *reconnector) cancel() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
