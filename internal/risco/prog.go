package risco

import (
	"context"
	"fmt"
)

// EnableProgMode puts the panel in programming mode.
func (t *Transport) EnableProgMode(ctx context.Context) error {
	if _, err := t.GetAckResult(ctx, "PROG=1", true); err != nil {
		return fmt.Errorf("failed to enter programming mode: %w", err)
	}
	t.SetProgMode(true)
	t.log.Debug("Panel entered programming mode")
	return nil
}

// DisableProgMode asks the panel to leave programming mode. The flag stays
// set until the panel reports it through a system status push.
func (t *Transport) DisableProgMode(ctx context.Context) error {
	if _, err := t.GetAckResult(ctx, "PROG=2", true); err != nil {
		return fmt.Errorf("failed to leave programming mode: %w", err)
	}
	t.log.Debug("Panel leaving programming mode")
	return nil
}

// ModifyPanelConfig applies cmds inside one programming session. Every
// command must be acknowledged.
func (t *Transport) ModifyPanelConfig(ctx context.Context, cmds []string) error {
	if len(cmds) == 0 {
		return nil
	}
	if err := t.EnableProgMode(ctx); err != nil {
		return err
	}
	for _, cmd := range cmds {
		t.log.Debug("Applying panel setting %s", cmd)
		if _, err := t.GetAckResult(ctx, cmd, true); err != nil {
			if exitErr := t.DisableProgMode(ctx); exitErr != nil {
				t.log.Error("%v", exitErr)
			}
			return fmt.Errorf("failed to apply %s: %w", cmd, err)
		}
	}
	return t.DisableProgMode(ctx)
}

// DisableRiscoCloud turns the panel's cloud reporting off.
func (t *Transport) DisableRiscoCloud(ctx context.Context) error {
	return t.ModifyPanelConfig(ctx, []string{"ELASEN=0"})
}

// EnableRiscoCloud turns the panel's cloud reporting on.
func (t *Transport) EnableRiscoCloud(ctx context.Context) error {
	return t.ModifyPanelConfig(ctx, []string{"ELASEN=1"})
}
