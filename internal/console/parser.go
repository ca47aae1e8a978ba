package console

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tickflow/internal/scheduler"
)

const (
	StartCommand = "!RST#"
	StopCommand  = "!OK#"
)

// Tasks is the part of the scheduler the parser drives.
type Tasks interface {
	Add(cb scheduler.Callback, arg any, priority uint8, periodTicks, delayTicks uint32, id uint8) error
	Delete(id uint8) error
}

// matcher tracks how much of cmd the recent input has matched.
type matcher struct {
	cmd string
	pos int
}

func (m *matcher) feed(c byte) bool {
	switch {
	case c == m.cmd[m.pos]:
		m.pos++
	case c == m.cmd[0]:
		m.pos = 1
	default:
		m.pos = 0
	}
	if m.pos == len(m.cmd) {
		m.pos = 0
		return true
	}
	return false
}

type ParserConfig struct {
	Port     *Port
	Tasks    Tasks
	Sampler  scheduler.Callback
	Every    uint32 // sampler period in ticks
	Priority uint8
	ID       uint8
	Logger   *zerolog.Logger
}

// Parser is a task callback. Each run consumes at most one received byte.
// StartCommand queues the sampler task; StopCommand deletes it.
type Parser struct {
	cfg    ParserConfig
	log    zerolog.Logger
	start  matcher
	stop   matcher
	active bool
}

func NewParser(cfg ParserConfig) *Parser {
	if cfg.Logger == nil {
		cfg.Logger = &log.Logger
	}
	return &Parser{
		cfg:   cfg,
		log:   cfg.Logger.With().Str("component", "console").Logger(),
		start: matcher{cmd: StartCommand},
		stop:  matcher{cmd: StopCommand},
	}
}

// Sampling reports whether the parser has the sampler queued.
func (p *Parser) Sampling() bool { return p.active }

func (p *Parser) Run(any) {
	c, ok := p.cfg.Port.Next()
	if !ok {
		return
	}
	started := p.start.feed(c)
	stopped := p.stop.feed(c)

	switch {
	case started && p.active:
		p.log.Debug().Msg("sampler already running")
	case started:
		if err := p.cfg.Tasks.Add(p.cfg.Sampler, nil, p.cfg.Priority, p.cfg.Every, 0, p.cfg.ID); err != nil {
			p.log.Error().Err(err).Uint8("id", p.cfg.ID).Msg("start sampler")
			return
		}
		p.active = true
		p.log.Info().Uint8("id", p.cfg.ID).Uint32("every", p.cfg.Every).Msg("sampler started")
	case stopped:
		if err := p.cfg.Tasks.Delete(p.cfg.ID); err != nil {
			p.log.Warn().Err(err).Uint8("id", p.cfg.ID).Msg("stop sampler")
		}
		if p.active {
			p.log.Info().Uint8("id", p.cfg.ID).Msg("sampler stopped")
		}
		p.active = false
	}
}
