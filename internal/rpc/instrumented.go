package rpc

import (
	"context"

	"github.com/italolelis/crocstore/internal/telemetry"
)

// InstrumentedGateway wraps a Gateway with telemetry.
type InstrumentedGateway struct {
	gateway   Gateway
	telemetry *telemetry.Telemetry
	plugin    string
}

// NewInstrumentedGateway creates a new instrumented gateway. plugin labels the metrics.
func NewInstrumentedGateway(gateway Gateway, tel *telemetry.Telemetry, plugin string) *InstrumentedGateway {
	return &InstrumentedGateway{
		gateway:   gateway,
		telemetry: tel,
		plugin:    plugin,
	}
}

// Call invokes the wrapped gateway inside a span and records the outcome.
func (g *InstrumentedGateway) Call(ctx context.Context, method string, args, out any) error {
	return g.telemetry.InstrumentClientOperation(ctx, g.plugin, method, func(ctx context.Context) error {
		return g.gateway.Call(ctx, method, args, out)
	})
}
