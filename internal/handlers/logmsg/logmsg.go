// Package logmsg is the heartbeat task kind: it writes one log line per run.
package logmsg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Log struct {
	Logger *zerolog.Logger
}

type Msg struct {
	Message string         `json:"message"`
	Level   string         `json:"level"`
	Fields  map[string]any `json:"fields"`
}

func (h Log) Handle(_ context.Context, payload json.RawMessage) error {
	var m Msg
	if err := json.Unmarshal(payload, &m); err != nil {
		return fmt.Errorf("log payload: %w", err)
	}
	lvl := zerolog.InfoLevel
	if m.Level != "" {
		var err error
		if lvl, err = zerolog.ParseLevel(m.Level); err != nil {
			return err
		}
	}
	if m.Message == "" {
		m.Message = "heartbeat"
	}
	l := h.Logger
	if l == nil {
		l = &log.Logger
	}
	l.WithLevel(lvl).Fields(m.Fields).Msg(m.Message)
	return nil
}
