package faults

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// LogNotifier writes the active faults to a zerolog logger. A limiter keeps
// a fault that is set on every tick from flooding the log. Notify must be
// called from a single goroutine.
type LogNotifier struct {
	log     zerolog.Logger
	limiter *rate.Limiter
	last    uint32
}

// NewLogNotifier allows at most perSec log lines per second (minimum 1).
func NewLogNotifier(l *zerolog.Logger, perSec int) *LogNotifier {
	if l == nil {
		l = &log.Logger
	}
	perSec = max(1, perSec)
	return &LogNotifier{
		log:     l.With().Str("component", "faults").Logger(),
		limiter: rate.NewLimiter(rate.Limit(perSec), perSec),
	}
}

// Notify logs only when the register is non-zero. A change in the register
// is always logged at warn; a repeat of the same value is logged at debug and
// only when the limiter allows it.
func (n *LogNotifier) Notify(bits uint32) {
	if bits == 0 {
		n.last = 0
		return
	}
	changed := bits != n.last
	n.last = bits
	if !changed && !n.limiter.Allow() {
		return
	}

	codes := Decode(bits)
	names := make([]string, 0, len(codes))
	for _, c := range codes {
		names = append(names, c.String())
	}
	ev := n.log.Debug()
	if changed {
		ev = n.log.Warn()
	}
	ev.Uint32("bits", bits).Strs("faults", names).Msg("fault register")
}

// SetRate changes the repeat budget. Safe to call while Notify runs.
func (n *LogNotifier) SetRate(perSec int) {
	perSec = max(1, perSec)
	n.limiter.SetLimit(rate.Limit(perSec))
	n.limiter.SetBurst(perSec)
}
