package logx

import (
	"time"

	"golang.org/x/time/rate"
)

// Throttle gates repeated log lines (e.g. "queue backlog high") to at most
// one per interval. A nil Throttle always allows.
type Throttle struct {
	lim *rate.Limiter
}

func NewThrottle(every time.Duration) *Throttle {
	if every <= 0 {
		every = 5 * time.Second
	}
	return &Throttle{lim: rate.NewLimiter(rate.Every(every), 1)}
}

func (t *Throttle) Allow() bool {
	if t == nil || t.lim == nil {
		return true
	}
	return t.lim.Allow()
}
