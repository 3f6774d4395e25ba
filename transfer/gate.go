package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/forsetidotfun/ferry/bridge"
	"github.com/forsetidotfun/ferry/codec"
	"github.com/forsetidotfun/ferry/types"
)

// DefaultHealthMarker must appear in a healthy reply.
const DefaultHealthMarker = "Ok"

var (
	// ErrHealthCheckFailed indicates the remote is not healthy. Fatal.
	ErrHealthCheckFailed = errors.New("health check failed")
	// ErrConfigurationFailed indicates the parameter push failed. Fatal.
	ErrConfigurationFailed = errors.New("configuration failed")
)

// Gate runs the pre-transfer checks. It holds no state between calls.
type Gate struct {
	bridge bridge.Bridge
	marker string
}

// NewGate returns a gate over b. An empty marker uses DefaultHealthMarker.
func NewGate(b bridge.Bridge, marker string) *Gate {
	if marker == "" {
		marker = DefaultHealthMarker
	}
	return &Gate{bridge: b, marker: marker}
}

// CheckHealth probes the remote. A reply without the health marker is a failure.
func (g *Gate) CheckHealth(ctx context.Context) (bridge.Reply, error) {
	reply, err := g.bridge.Invoke(ctx, bridge.OpHealth, codec.Argument{})
	if err != nil {
		return reply, fmt.Errorf("%w: %w", ErrHealthCheckFailed, err)
	}
	if !strings.Contains(reply.Text, g.marker) {
		return reply, fmt.Errorf("%w: unexpected reply %q", ErrHealthCheckFailed, reply.Text)
	}
	return reply, nil
}

// Configure pushes the token limits.
func (g *Gate) Configure(ctx context.Context, limits types.TokenLimits) (bridge.Reply, error) {
	arg, err := codec.EncodeConfigArgument(limits)
	if err != nil {
		return bridge.Reply{}, fmt.Errorf("%w: %w", ErrConfigurationFailed, err)
	}
	reply, err := g.bridge.Invoke(ctx, bridge.OpConfigure, arg)
	if err != nil {
		return reply, fmt.Errorf("%w: %w", ErrConfigurationFailed, err)
	}
	return reply, nil
}
