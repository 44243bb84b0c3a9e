package domain

import "time"

// EngineEvent is published on the signal bus and fanned out to notifiers.
type EngineEvent struct {
	Type      string         `json:"type"` // "trade_succeeded", "trade_failed", "gate_rejected", "monitor_degraded"
	TradeID   string         `json:"trade_id,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Event type names.
const (
	EventTradeSucceeded  = "trade_succeeded"
	EventTradeFailed     = "trade_failed"
	EventGateRejected    = "gate_rejected"
	EventMonitorDegraded = "monitor_degraded"
)
