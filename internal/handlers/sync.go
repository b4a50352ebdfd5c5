package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"sellersync/internal/alerts"
	"sellersync/internal/db"
	"sellersync/internal/model"
	"sellersync/internal/syncer"
)

// financeLag keeps postedBefore clear of "now"; the transactions API rejects windows
// that end too close to the present.
const financeLag = 2 * time.Minute

type Syncer interface {
	SyncSalesTrafficDays(ctx context.Context, tenant string, from, to time.Time) (int, error)
	SyncFinancialEvents(ctx context.Context, tenant string, postedAfter, postedBefore time.Time) (int, error)
	SyncInventory(ctx context.Context, tenant string) (int, error)
}

type Claimer interface {
	ClaimRun(ctx context.Context, runKey, runID string) (bool, error)
	ReleaseRun(ctx context.Context, runKey string) error
}

type Alerter interface {
	NotifyFailure(ctx context.Context, f alerts.Failure) error
}

// SyncDetail is the EventBridge detail payload. Every field is optional.
type SyncDetail struct {
	Tenant string `json:"tenant,omitempty"`
	Domain string `json:"domain,omitempty"`
	Start  string `json:"start,omitempty"` // YYYY-MM-DD
	End    string `json:"end,omitempty"`   // YYYY-MM-DD, inclusive
}

type RunResult struct {
	Tenant string `json:"tenant"`
	Domain string `json:"domain"`
	Window string `json:"window"`
	Status string `json:"status"`
	Rows   int    `json:"rows"`
	Kind   string `json:"kind,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SyncHandler is triggered by EventBridge schedule.
//
// Behavior:
// - No tenant: every tenant with a Selling Partner integration
// - No domain: sales_traffic, financial_events and inventory, in that order
// - Sales/traffic defaults to yesterday in Location; financial events to the last
//   FinanceDaysBack days ending two minutes ago
// - Each (tenant, domain) runs on its own; a failure is logged, alerted and reported in
//   the result but does not stop the others
// - Claims are keyed on the EventBridge event id, so only a redelivery of the same event
//   is skipped. A failed run releases its claim.
type SyncHandler struct {
	Engine      Syncer
	ListTenants func(ctx context.Context) ([]string, error)
	Claims      Claimer
	Alerts      Alerter

	Location        *time.Location
	FinanceDaysBack int

	Now      func() time.Time
	NewRunID func() string
	Logger   *zap.Logger
}

type window struct {
	from, to time.Time
	label    string
}

func (h *SyncHandler) Handle(ctx context.Context, ev events.CloudWatchEvent) (map[string]any, error) {
	logger := h.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	newRunID := uuid.NewString
	if h.NewRunID != nil {
		newRunID = h.NewRunID
	}

	var detail SyncDetail
	if raw := strings.TrimSpace(string(ev.Detail)); raw != "" && raw != "null" {
		if err := json.Unmarshal(ev.Detail, &detail); err != nil {
			return nil, fmt.Errorf("invalid event detail: %w", err)
		}
	}

	domains := model.AllDomains()
	if d := strings.TrimSpace(detail.Domain); d != "" {
		parsed, ok := model.ParseDomain(d)
		if !ok {
			return nil, fmt.Errorf("unknown domain %q", d)
		}
		domains = []model.Domain{parsed}
	}

	runID := newRunID()
	logger = logger.With(zap.String("run_id", runID))
	at := now().UTC()

	windows := map[model.Domain]window{}
	for _, d := range domains {
		w, err := h.window(d, detail, at)
		if err != nil {
			return nil, err
		}
		windows[d] = w
	}

	var tenants []string
	if t := strings.TrimSpace(detail.Tenant); t != "" {
		tenants = []string{t}
	} else {
		if h.ListTenants == nil {
			return nil, fmt.Errorf("no tenant given and no tenant lister configured")
		}
		listed, err := h.ListTenants(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tenants: %w", err)
		}
		tenants = listed
	}
	if len(tenants) == 0 {
		return map[string]any{"ok": true, "run_id": runID, "tenants": 0, "reason": "no tenants found"}, nil
	}

	results := make([]RunResult, 0, len(tenants)*len(domains))
	failed := 0
	for _, tenant := range tenants {
		for _, d := range domains {
			w := windows[d]
			res := RunResult{Tenant: tenant, Domain: string(d), Window: w.label}

			runKey := ""
			if h.Claims != nil && ev.ID != "" {
				runKey = db.RunKey(ev.ID, tenant, string(d))
				dup, err := h.Claims.ClaimRun(ctx, runKey, runID)
				if err != nil {
					logger.Warn("run claim failed, continuing", zap.String("tenant", tenant), zap.String("domain", string(d)), zap.Error(err))
				} else if dup {
					res.Status = "skipped"
					results = append(results, res)
					logger.Info("duplicate run skipped", zap.String("tenant", tenant), zap.String("domain", string(d)), zap.String("window", w.label))
					continue
				}
			}

			n, err := h.run(ctx, d, tenant, w)
			res.Rows = n
			if err != nil {
				failed++
				res.Status = "failed"
				res.Kind = syncer.Kind(err)
				res.Error = err.Error()
				if runKey != "" {
					if rerr := h.Claims.ReleaseRun(ctx, runKey); rerr != nil {
						logger.Warn("run claim not released", zap.String("run_key", runKey), zap.Error(rerr))
					}
				}
				logger.Error("sync failed",
					zap.String("tenant", tenant),
					zap.String("domain", string(d)),
					zap.String("window", w.label),
					zap.String("kind", res.Kind),
					zap.Int("rows", n),
					zap.Error(err),
				)
				if h.Alerts != nil {
					aerr := h.Alerts.NotifyFailure(ctx, alerts.Failure{
						RunID:  runID,
						Tenant: tenant,
						Domain: string(d),
						Window: w.label,
						Kind:   res.Kind,
						Err:    err,
					})
					if aerr != nil {
						logger.Warn("failure alert not sent", zap.Error(aerr))
					}
				}
			} else {
				res.Status = "ok"
			}
			results = append(results, res)
		}
	}

	return map[string]any{
		"ok":      failed == 0,
		"run_id":  runID,
		"tenants": len(tenants),
		"failed":  failed,
		"results": results,
	}, nil
}

func (h *SyncHandler) run(ctx context.Context, d model.Domain, tenant string, w window) (int, error) {
	switch d {
	case model.DomainSalesTraffic:
		return h.Engine.SyncSalesTrafficDays(ctx, tenant, w.from, w.to)
	case model.DomainFinancialEvents:
		return h.Engine.SyncFinancialEvents(ctx, tenant, w.from, w.to)
	case model.DomainInventory:
		return h.Engine.SyncInventory(ctx, tenant)
	default:
		return 0, fmt.Errorf("unknown domain %q", d)
	}
}

func (h *SyncHandler) window(d model.Domain, detail SyncDetail, now time.Time) (window, error) {
	loc := h.Location
	if loc == nil {
		loc = time.UTC
	}

	start, end, err := parseRange(detail.Start, detail.End)
	if err != nil {
		return window{}, err
	}

	switch d {
	case model.DomainSalesTraffic:
		if start.IsZero() {
			local := now.In(loc).AddDate(0, 0, -1)
			start = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
			end = start
		}
		label := model.DateKey(start)
		if !end.Equal(start) {
			label += ".." + model.DateKey(end)
		}
		return window{from: start, to: end, label: label}, nil

	case model.DomainFinancialEvents:
		before := now.Add(-financeLag).Truncate(time.Second)
		after := before.Add(-time.Duration(h.financeDays()) * 24 * time.Hour)
		if !start.IsZero() {
			after = start
			if dayAfterEnd := end.AddDate(0, 0, 1); dayAfterEnd.Before(before) {
				before = dayAfterEnd
			}
		}
		if !before.After(after) {
			return window{}, fmt.Errorf("financial window %s..%s is empty", after.Format(time.RFC3339), before.Format(time.RFC3339))
		}
		return window{from: after, to: before, label: after.Format(time.RFC3339) + ".." + before.Format(time.RFC3339)}, nil

	case model.DomainInventory:
		return window{label: model.DateKey(now)}, nil
	}
	return window{}, fmt.Errorf("unknown domain %q", d)
}

func (h *SyncHandler) financeDays() int {
	if h.FinanceDaysBack > 0 {
		return h.FinanceDaysBack
	}
	return 2
}

func parseRange(startStr, endStr string) (time.Time, time.Time, error) {
	startStr, endStr = strings.TrimSpace(startStr), strings.TrimSpace(endStr)
	if startStr == "" {
		if endStr != "" {
			return time.Time{}, time.Time{}, fmt.Errorf("end given without start")
		}
		return time.Time{}, time.Time{}, nil
	}
	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start %q: %w", startStr, err)
	}
	end := start
	if endStr != "" {
		end, err = time.Parse("2006-01-02", endStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end %q: %w", endStr, err)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s before start %s", endStr, startStr)
	}
	return start, end, nil
}
