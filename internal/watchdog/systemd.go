package watchdog

import (
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog/log"
)

// Systemd forwards the watchdog protocol to the service manager: READY on
// Start, WATCHDOG pings on Refresh (at most every half interval) and STOPPING
// on Stop. Outside systemd every call is a no-op.
type Systemd struct {
	interval time.Duration
	notify   func(state string) (bool, error)

	mu   sync.Mutex
	last time.Time
}

// NewSystemd reads WATCHDOG_USEC. The interval is zero when systemd does
// not supervise this process; pings are then skipped but READY and STOPPING
// are still sent.
func NewSystemd() *Systemd {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn().Err(err).Msg("systemd watchdog settings")
	}
	return &Systemd{interval: interval, notify: sdNotify}
}

func sdNotify(state string) (bool, error) { return daemon.SdNotify(false, state) }

func (s *Systemd) Interval() time.Duration { return s.interval }

func (s *Systemd) Start() { s.send(daemon.SdNotifyReady) }

func (s *Systemd) Refresh() {
	if s.interval <= 0 {
		return
	}
	s.mu.Lock()
	now := time.Now()
	due := now.Sub(s.last) >= s.interval/2
	if due {
		s.last = now
	}
	s.mu.Unlock()
	if due {
		s.send(daemon.SdNotifyWatchdog)
	}
}

func (s *Systemd) Stop() { s.send(daemon.SdNotifyStopping) }

func (s *Systemd) send(state string) {
	if _, err := s.notify(state); err != nil {
		log.Warn().Err(err).Str("state", state).Msg("sd_notify")
	}
}

// Dog is the method set shared by every watchdog in this package.
type Dog interface {
	Start()
	Refresh()
	Stop()
}

// Multi fans each call out to all of its members in order.
type Multi []Dog

func (m Multi) Start() {
	for _, d := range m {
		d.Start()
	}
}

func (m Multi) Refresh() {
	for _, d := range m {
		d.Refresh()
	}
}

func (m Multi) Stop() {
	for _, d := range m {
		d.Stop()
	}
}
