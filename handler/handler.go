// Package handler dispatches inventory actions from event payloads, the
// shape a scheduler or function trigger would send.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/musterops/muster/analyzer"
	"github.com/musterops/muster/telemetry"
	"github.com/musterops/muster/types"
)

// Event is the inbound action request.
type Event struct {
	Action    string `json:"action"`
	StaleDays int    `json:"stale_days,omitempty"`
}

// Response mirrors the proxy-style envelope callers expect.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// CollectFunc runs a full collect-and-persist cycle.
type CollectFunc func(ctx context.Context) (records, failures int, err error)

// RecordsFunc loads the stored inventory for analysis actions.
type RecordsFunc func(ctx context.Context) ([]types.Record, error)

// Handler routes events to inventory operations.
type Handler struct {
	collect CollectFunc
	records RecordsFunc
	logger  *telemetry.Logger

	// test seam
	now func() time.Time
}

// New creates a handler over the given operations.
func New(collect CollectFunc, records RecordsFunc, logger *telemetry.Logger) *Handler {
	return &Handler{collect: collect, records: records, logger: logger, now: time.Now}
}

// Handle runs one event. Unknown actions are a 400; internal errors are a
// 500 carrying a request id for correlation; partial collection failures
// still return 200 with the failure count in the body.
func (h *Handler) Handle(ctx context.Context, event Event) Response {
	switch event.Action {
	case "collect":
		return h.handleCollect(ctx)
	case "cost_analysis", "analyze_cost":
		return h.handleAnalysis(ctx, func(records []types.Record) any {
			return analyzer.AnalyzeCosts(records, h.now())
		})
	case "security_check", "check_security":
		return h.handleAnalysis(ctx, func(records []types.Record) any {
			return map[string]any{
				"unencrypted":    analyzer.FindUnencrypted(records),
				"public_buckets": analyzer.FindPublicBuckets(records),
			}
		})
	case "cleanup", "cleanup_stale":
		days := event.StaleDays
		if days <= 0 {
			days = analyzer.DefaultStaleDays
		}
		return h.handleAnalysis(ctx, func(records []types.Record) any {
			// Report-only: stale resources are flagged, never deleted.
			return map[string]any{
				"stale_days": days,
				"flagged":    analyzer.FindStale(records, days, h.now()),
			}
		})
	default:
		return jsonResponse(400, map[string]string{
			"error": fmt.Sprintf("unknown action: %q", event.Action),
		})
	}
}

// HandleRaw parses a raw event payload and runs it.
func (h *Handler) HandleRaw(ctx context.Context, payload []byte) Response {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return jsonResponse(400, map[string]string{"error": "malformed event: " + err.Error()})
	}
	return h.Handle(ctx, event)
}

func (h *Handler) handleCollect(ctx context.Context) Response {
	records, failures, err := h.collect(ctx)
	if err != nil {
		return h.internalError(ctx, "collect", err)
	}
	return jsonResponse(200, map[string]int{
		"records":  records,
		"failures": failures,
	})
}

func (h *Handler) handleAnalysis(ctx context.Context, analyze func([]types.Record) any) Response {
	records, err := h.records(ctx)
	if err != nil {
		return h.internalError(ctx, "load records", err)
	}
	return jsonResponse(200, analyze(records))
}

func (h *Handler) internalError(ctx context.Context, op string, err error) Response {
	requestID := uuid.NewString()
	h.logger.WithContext(ctx).Error().
		Err(err).
		Str("op", op).
		Str("request_id", requestID).
		Msg("handler action failed")
	return jsonResponse(500, map[string]string{
		"error":      "internal error",
		"request_id": requestID,
	})
}

func jsonResponse(status int, body any) Response {
	data, err := json.Marshal(body)
	if err != nil {
		return Response{StatusCode: 500, Body: `{"error":"encoding failure"}`}
	}
	return Response{StatusCode: status, Body: string(data)}
}
