package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskDef is a task declared in the configuration file. It becomes one
// scheduler entry at boot.
type TaskDef struct {
	Name     string         `yaml:"name" json:"name"`
	ID       uint8          `yaml:"id" json:"id"`
	Kind     string         `yaml:"kind" json:"kind"`
	Priority uint8          `yaml:"priority" json:"priority"`
	Every    string         `yaml:"every" json:"every"` // empty for one-shot
	Delay    string         `yaml:"delay" json:"delay"`
	Timeout  time.Duration  `yaml:"timeout" json:"timeout"`
	Payload  map[string]any `yaml:"payload" json:"payload"`
}

// PayloadJSON is the payload as handlers receive it.
func (d TaskDef) PayloadJSON() (json.RawMessage, error) {
	if len(d.Payload) == 0 {
		return json.RawMessage("{}"), nil
	}
	b, err := json.Marshal(d.Payload)
	if err != nil {
		return nil, fmt.Errorf("task %s payload: %w", d.Name, err)
	}
	return b, nil
}

func (d TaskDef) String() string {
	return fmt.Sprintf("%s#%d(%s)", d.Name, d.ID, d.Kind)
}
