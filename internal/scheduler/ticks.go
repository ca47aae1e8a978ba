package scheduler

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrCalendarSpec = errors.New("calendar schedules have no fixed period")

// DurationToTicks converts d to whole ticks, rounding down.
func DurationToTicks(d, period time.Duration) uint32 {
	if d <= 0 || period <= 0 {
		return 0
	}
	n := d / period
	if n > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}

func MsToTicks(ms uint32, period time.Duration) uint32 {
	return DurationToTicks(time.Duration(ms)*time.Millisecond, period)
}

// ParseEvery turns a period spec into ticks. It accepts Go durations
// ("250ms", "1m30s") and cron constant-delay descriptors ("@every 5s"). An
// empty spec is a one-shot (0). A positive period shorter than one tick is
// rounded up to one tick so it stays periodic.
func ParseEvery(spec string, period time.Duration) (uint32, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(spec)
	if err != nil {
		sched, cerr := cron.ParseStandard(spec)
		if cerr != nil {
			return 0, fmt.Errorf("parse period %q: %w", spec, cerr)
		}
		every, ok := sched.(cron.ConstantDelaySchedule)
		if !ok {
			return 0, fmt.Errorf("period %q: %w", spec, ErrCalendarSpec)
		}
		d = every.Delay
	}
	if d < 0 {
		return 0, fmt.Errorf("period %q is negative", spec)
	}

	n := DurationToTicks(d, period)
	if n == 0 && d > 0 {
		n = 1
	}
	return n, nil
}

func saturatingAdd(v, n uint32) (uint32, bool) {
	if v > math.MaxUint32-n {
		return math.MaxUint32, true
	}
	return v + n, false
}

// bump adds one tick unless the counter is at its maximum. Crossing the
// maximum needs a renormalization, which only the main loop may do.
func (s *Scheduler) bump() bool {
	for {
		t := s.tick.Load()
		if t == math.MaxUint32 {
			return false
		}
		if s.tick.CompareAndSwap(t, t+1) {
			return true
		}
	}
}

// advanceTick adds n to the live tick counter, renormalizing first when n
// does not fit. Main loop only.
func (s *Scheduler) advanceTick(n uint32) {
	for {
		t := s.tick.Load()
		if t <= math.MaxUint32-n {
			if s.tick.CompareAndSwap(t, t+n) {
				return
			}
			continue
		}
		if s.renormalize() > 0 {
			continue
		}
		if s.tick.CompareAndSwap(t, math.MaxUint32) {
			s.log.Warn().Uint32("lost", n-(math.MaxUint32-t)).Msg("tick counter saturated")
			return
		}
	}
}

// tickPlus returns the live tick plus n. Main loop only.
func (s *Scheduler) tickPlus(n uint32) uint32 {
	if s.tick.Load() > math.MaxUint32-n {
		s.renormalize()
	}
	v, sat := saturatingAdd(s.tick.Load(), n)
	if sat {
		s.log.Warn().Uint32("delay", n).Msg("due tick saturated")
	}
	return v
}

// advanceDue adds n to the due tick of s.tasks[i]. Main loop only.
func (s *Scheduler) advanceDue(i int, n uint32) {
	if s.tasks[i].DueTick > math.MaxUint32-n {
		s.renormalize()
	}
	v, sat := saturatingAdd(s.tasks[i].DueTick, n)
	if sat {
		s.log.Warn().Uint8("id", s.tasks[i].ID).Uint32("period", n).Msg("due tick saturated")
	}
	s.tasks[i].DueTick = v
}

// renormalize shifts the tick origin so the smallest tracked tick becomes
// zero: the live counter, every queued due tick, and the frozen batch tick
// while a batch is open. Pairwise order and distances are unchanged. It
// returns the shift. Main loop only.
func (s *Scheduler) renormalize() uint32 {
	batch := s.deferring.Load()
	for {
		t := s.tick.Load()
		low := t
		if batch {
			low = min(low, s.now)
		}
		for i := 0; i < s.count; i++ {
			low = min(low, s.tasks[i].DueTick)
		}
		if low == 0 {
			return 0
		}
		// The tick handler may have moved the counter since the load.
		if !s.tick.CompareAndSwap(t, t-low) {
			continue
		}
		for i := 0; i < s.count; i++ {
			s.tasks[i].DueTick -= low
		}
		if batch {
			s.now -= low
		}
		s.log.Info().Uint32("shift", low).Int("tasks", s.count).Msg("tick origin renormalized")
		return low
	}
}
