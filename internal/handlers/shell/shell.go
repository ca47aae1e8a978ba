package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

const maxOutput = 512

type Shell struct{}

type Cmd struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Dir     string   `json:"dir"`
}

func (h Shell) Handle(ctx context.Context, payload json.RawMessage) error {
	var c Cmd
	if err := json.Unmarshal(payload, &c); err != nil {
		return fmt.Errorf("shell payload: %w", err)
	}
	if c.Command == "" {
		return fmt.Errorf("command is required")
	}
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Dir = c.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w; out=%s", c.Command, err, clip(out))
	}
	return nil
}

func clip(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > maxOutput {
		s = s[:maxOutput] + "..."
	}
	return s
}
