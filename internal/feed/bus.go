package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/market"
)

// MarketChannel is the signal bus channel carrying Frame payloads.
const MarketChannel = "market"

// BusFeed consumes Frame messages published on the signal bus by an
// upstream collector process.
type BusFeed struct {
	bus     domain.SignalBus
	channel string
	buf     *buffer
	logger  *slog.Logger
}

// NewBusFeed creates a feed on channel (MarketChannel when empty).
func NewBusFeed(bus domain.SignalBus, channel string, logger *slog.Logger) *BusFeed {
	if channel == "" {
		channel = MarketChannel
	}
	return &BusFeed{
		bus:     bus,
		channel: channel,
		buf:     newBuffer(),
		logger:  logger.With(slog.String("component", "bus_feed")),
	}
}

// Fetch implements Feed.
func (f *BusFeed) Fetch(context.Context) (market.Update, error) {
	return f.buf.drain(), nil
}

// Run subscribes and buffers frames until ctx is cancelled.
func (f *BusFeed) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, f.channel)
	if err != nil {
		return fmt.Errorf("bus feed: subscribe %s: %w", f.channel, err)
	}
	f.logger.Info("bus feed started", slog.String("channel", f.channel))
	defer f.logger.Info("bus feed stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			var fr Frame
			if err := json.Unmarshal(data, &fr); err != nil {
				f.logger.Debug("bus feed: bad frame",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
				continue
			}
			f.buf.add(fr.Update())
		}
	}
}

// Publish encodes fr on the bus channel.
func Publish(ctx context.Context, bus domain.SignalBus, channel string, fr Frame) error {
	if channel == "" {
		channel = MarketChannel
	}
	data, err := json.Marshal(fr)
	if err != nil {
		return fmt.Errorf("bus feed: marshal frame: %w", err)
	}
	return bus.Publish(ctx, channel, data)
}
