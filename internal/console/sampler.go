package console

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Probe is the sampled input.
type Probe interface {
	Sample() (uint32, error)
}

type ProbeFunc func() (uint32, error)

func (f ProbeFunc) Sample() (uint32, error) { return f() }

// Sampler is a task callback that writes one reading per run as a decimal
// line terminated by CRLF.
type Sampler struct {
	probe Probe
	port  *Port
	log   zerolog.Logger
}

func NewSampler(probe Probe, port *Port, l *zerolog.Logger) *Sampler {
	if l == nil {
		l = &log.Logger
	}
	return &Sampler{probe: probe, port: port, log: l.With().Str("component", "sampler").Logger()}
}

func (s *Sampler) Run(any) {
	v, err := s.probe.Sample()
	if err != nil {
		s.log.Warn().Err(err).Msg("sample")
		return
	}
	if _, err := s.port.Transmit(fmt.Appendf(nil, "%d\r\n", v)); err != nil {
		s.log.Warn().Err(err).Msg("transmit sample")
	}
}
