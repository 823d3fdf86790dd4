package ipc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pbjustin/Arcanos-sub003/pkg/metrics"
)

// maxCommandNameLen bounds the command name accepted from HTTP callers.
const maxCommandNameLen = 100

// Dispatch validation errors.
var (
	ErrEmptyCommand   = errors.New("command must not be empty")
	ErrCommandTooLong = fmt.Errorf("command must be at most %d characters", maxCommandNameLen)
)

// Dispatcher turns HTTP command requests into per-user fan-outs.
type Dispatcher struct {
	registry *Registry
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewDispatcher creates a dispatcher over the registry. Metrics may be nil.
func NewDispatcher(registry *Registry, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{registry: registry, metrics: m, now: time.Now}
}

// Dispatch validates, builds, and fans out one command to every open
// connection of the target user. The returned commandId identifies the
// command in later command_result frames.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, command string, payload map[string]any) (string, DispatchResult, error) {
	if command == "" {
		return "", DispatchResult{}, ErrEmptyCommand
	}
	if len(command) > maxCommandNameLen {
		return "", DispatchResult{}, ErrCommandTooLong
	}

	commandID := uuid.New().String()
	msg := BuildCommand(commandID, command, payload, d.now())
	result := d.registry.SendCommandToUser(ctx, userID, msg)

	if d.metrics != nil {
		outcome := "delivered"
		if !result.OK {
			outcome = "undelivered"
		}
		d.metrics.IPCCommandFanouts.WithLabelValues(outcome).Inc()
	}
	return commandID, result, nil
}
