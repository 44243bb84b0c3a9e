package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/executor"
	"github.com/alanyoungcy/arbengine/internal/ledger"
	"github.com/alanyoungcy/arbengine/internal/metrics"
	"github.com/alanyoungcy/arbengine/internal/monitor"
	"github.com/alanyoungcy/arbengine/internal/notify"
	"github.com/alanyoungcy/arbengine/internal/server/ws"
)

// Bus channels carrying engine events.
const (
	EventsChannel = "engine.events"
	EventsStream  = "engine.events.log"
)

// eventPublisher fans engine events out to the signal bus (which the ws hub
// relays), or straight to the hub when there is no bus, and to notifiers.
type eventPublisher struct {
	bus      domain.SignalBus
	hub      *ws.Hub
	notifier *notify.Notifier
	audit    domain.AuditStore
	logger   *slog.Logger
}

func (p *eventPublisher) Emit(ctx context.Context, ev domain.EngineEvent) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("events: marshal failed", slog.String("type", ev.Type), slog.String("error", err.Error()))
		return
	}

	switch {
	case p.bus != nil:
		if err := p.bus.Publish(ctx, EventsChannel, payload); err != nil {
			p.logger.Warn("events: publish failed", slog.String("type", ev.Type), slog.String("error", err.Error()))
		}
		if err := p.bus.StreamAppend(ctx, EventsStream, payload); err != nil {
			p.logger.Warn("events: stream append failed", slog.String("type", ev.Type), slog.String("error", err.Error()))
		}
	case p.hub != nil:
		p.hub.Broadcast(ctx, EventsChannel, payload)
	}

	if p.notifier != nil {
		if err := p.notifier.Notify(ctx, ev); err != nil {
			p.logger.Warn("events: notify failed", slog.String("type", ev.Type), slog.String("error", err.Error()))
		}
	}
	if p.audit != nil {
		detail := map[string]any{"message": ev.Message}
		if ev.TradeID != "" {
			detail["trade_id"] = ev.TradeID
		}
		for k, v := range ev.Fields {
			detail[k] = v
		}
		if err := p.audit.Log(ctx, ev.Type, detail); err != nil {
			p.logger.Warn("events: audit log failed", slog.String("type", ev.Type), slog.String("error", err.Error()))
		}
	}
}

// tradeEvent describes a finished trade.
func tradeEvent(exec domain.TradeExecution) domain.EngineEvent {
	ev := domain.EngineEvent{
		TradeID: exec.ID,
		Fields: map[string]any{
			"account":         exec.Account,
			"shape":           string(exec.Shape),
			"notional":        exec.Notional,
			"expected_profit": exec.ExpectedProfit,
			"realized_profit": exec.RealizedProfit,
			"legs":            len(exec.Legs),
		},
	}
	if exec.Succeeded() {
		ev.Type = domain.EventTradeSucceeded
		ev.Message = fmt.Sprintf("realized %.6f on notional %.2f", exec.RealizedProfit, exec.Notional)
		return ev
	}
	ev.Type = domain.EventTradeFailed
	ev.Message = string(exec.FailureReason)
	if exec.Error != "" {
		ev.Message += ": " + exec.Error
	}
	ev.Fields["reason"] = string(exec.FailureReason)
	return ev
}

// finishHooks are run by the orchestrator once per terminal trade, after the
// ledger has recorded it.
func finishHooks(led *ledger.Ledger, mon *monitor.Monitor, sink metrics.Sink, trades domain.TradeStore, events *eventPublisher, logger *slog.Logger) []executor.FinishHook {
	hooks := []executor.FinishHook{
		func(context.Context, domain.TradeExecution) {
			sink.SuccessRate(mon.SuccessRate())
			sink.Profit(led.Snapshot())
		},
	}
	if trades != nil {
		hooks = append(hooks, func(ctx context.Context, exec domain.TradeExecution) {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := trades.Create(ctx, exec); err != nil {
				logger.Error("app: persist trade failed",
					slog.String("trade_id", exec.ID),
					slog.String("error", err.Error()),
				)
			}
		})
	}
	return append(hooks, func(ctx context.Context, exec domain.TradeExecution) {
		events.Emit(ctx, tradeEvent(exec))
	})
}

// watchHealth emits a monitor_degraded event whenever the monitor turns
// degraded, and keeps the success-rate gauge current between trades.
func watchHealth(ctx context.Context, mon *monitor.Monitor, sink metrics.Sink, events *eventPublisher, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	degraded := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h := mon.Health()
			sink.SuccessRate(h.SuccessRate)
			if h.Degraded && !degraded {
				events.Emit(ctx, domain.EngineEvent{
					Type:    domain.EventMonitorDegraded,
					Message: fmt.Sprintf("%d failed transactions in the health window", h.RecentFailures),
					Fields:  map[string]any{"success_rate": h.SuccessRate},
				})
			}
			degraded = h.Degraded
		}
	}
}
