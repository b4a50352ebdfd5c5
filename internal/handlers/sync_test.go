package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"sellersync/internal/alerts"
	"sellersync/internal/spapi"
)

type call struct {
	Domain   string
	Tenant   string
	From, To time.Time
}

type fakeSyncer struct {
	calls []call
	fail  map[string]error
}

func (f *fakeSyncer) record(domain, tenant string, from, to time.Time) (int, error) {
	f.calls = append(f.calls, call{domain, tenant, from, to})
	if err := f.fail[tenant+"/"+domain]; err != nil {
		return 0, err
	}
	return 5, nil
}

func (f *fakeSyncer) SyncSalesTrafficDays(_ context.Context, tenant string, from, to time.Time) (int, error) {
	return f.record("sales_traffic", tenant, from, to)
}

func (f *fakeSyncer) SyncFinancialEvents(_ context.Context, tenant string, after, before time.Time) (int, error) {
	return f.record("financial_events", tenant, after, before)
}

func (f *fakeSyncer) SyncInventory(_ context.Context, tenant string) (int, error) {
	return f.record("inventory", tenant, time.Time{}, time.Time{})
}

type memClaims struct{ seen map[string]bool }

func (m *memClaims) ClaimRun(_ context.Context, key, _ string) (bool, error) {
	if m.seen[key] {
		return true, nil
	}
	m.seen[key] = true
	return false, nil
}

func (m *memClaims) ReleaseRun(_ context.Context, key string) error {
	delete(m.seen, key)
	return nil
}

type recordingAlerts struct{ failures []alerts.Failure }

func (r *recordingAlerts) NotifyFailure(_ context.Context, f alerts.Failure) error {
	r.failures = append(r.failures, f)
	return nil
}

var handlerNow = time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)

func newHandler(s *fakeSyncer) (*SyncHandler, *recordingAlerts) {
	al := &recordingAlerts{}
	return &SyncHandler{
		Engine:          s,
		ListTenants:     func(context.Context) ([]string, error) { return []string{"acme", "beta"}, nil },
		Claims:          &memClaims{seen: map[string]bool{}},
		Alerts:          al,
		FinanceDaysBack: 3,
		Now:             func() time.Time { return handlerNow },
		NewRunID:        func() string { return "run-1" },
	}, al
}

func event(t *testing.T, d SyncDetail) events.CloudWatchEvent {
	t.Helper()
	return eventWithID(t, "", d)
}

func eventWithID(t *testing.T, id string, d SyncDetail) events.CloudWatchEvent {
	t.Helper()
	b, err := json.Marshal(d)
	require.NoError(t, err)
	return events.CloudWatchEvent{ID: id, DetailType: "spapi-sync", Detail: b}
}

func TestSyncHandler_DefaultsFanOut(t *testing.T) {
	s := &fakeSyncer{}
	h, _ := newHandler(s)

	out, err := h.Handle(context.Background(), events.CloudWatchEvent{})
	require.NoError(t, err)
	require.Equal(t, true, out["ok"])
	require.Equal(t, 2, out["tenants"])
	require.Len(t, s.calls, 6)

	yesterday := time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)
	require.Equal(t, call{"sales_traffic", "acme", yesterday, yesterday}, s.calls[0])

	fin := s.calls[1]
	require.Equal(t, "financial_events", fin.Domain)
	require.Equal(t, handlerNow.Add(-2*time.Minute), fin.To)
	require.Equal(t, fin.To.Add(-72*time.Hour), fin.From)

	require.Equal(t, "inventory", s.calls[2].Domain)
	require.Equal(t, "beta", s.calls[3].Tenant)
}

func TestSyncHandler_YesterdayInTimezone(t *testing.T) {
	s := &fakeSyncer{}
	h, _ := newHandler(s)
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	h.Location = loc

	// 03:00 UTC on the 10th is still the 9th in Los Angeles.
	_, err = h.Handle(context.Background(), event(t, SyncDetail{Tenant: "acme", Domain: "sales_traffic"}))
	require.NoError(t, err)
	require.Len(t, s.calls, 1)
	require.Equal(t, time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC), s.calls[0].From)
}

func TestSyncHandler_ExplicitBackfill(t *testing.T) {
	s := &fakeSyncer{}
	h, _ := newHandler(s)

	out, err := h.Handle(context.Background(), event(t, SyncDetail{Tenant: "acme", Start: "2025-02-01", End: "2025-02-03"}))
	require.NoError(t, err)
	require.Len(t, s.calls, 3)

	require.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), s.calls[0].From)
	require.Equal(t, time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC), s.calls[0].To)

	require.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), s.calls[1].From)
	require.Equal(t, time.Date(2025, 2, 4, 0, 0, 0, 0, time.UTC), s.calls[1].To)

	results := out["results"].([]RunResult)
	require.Equal(t, "2025-02-01..2025-02-03", results[0].Window)
}

func TestSyncHandler_FailureIsIsolatedAndAlerted(t *testing.T) {
	s := &fakeSyncer{fail: map[string]error{
		"acme/inventory": fmt.Errorf("inventory: %w", &spapi.ReportTimeoutError{ReportID: "r", Attempts: 12}),
	}}
	h, al := newHandler(s)

	out, err := h.Handle(context.Background(), events.CloudWatchEvent{})
	require.NoError(t, err)
	require.Equal(t, false, out["ok"])
	require.Equal(t, 1, out["failed"])
	require.Len(t, s.calls, 6)

	require.Len(t, al.failures, 1)
	require.Equal(t, "acme", al.failures[0].Tenant)
	require.Equal(t, "inventory", al.failures[0].Domain)
	require.Equal(t, "report_timeout", al.failures[0].Kind)
	require.Equal(t, "run-1", al.failures[0].RunID)
}

func TestSyncHandler_DuplicateDeliverySkipped(t *testing.T) {
	s := &fakeSyncer{}
	h, _ := newHandler(s)
	ev := eventWithID(t, "evt-1", SyncDetail{Tenant: "acme", Domain: "inventory"})

	_, err := h.Handle(context.Background(), ev)
	require.NoError(t, err)
	out, err := h.Handle(context.Background(), ev)
	require.NoError(t, err)

	require.Len(t, s.calls, 1)
	results := out["results"].([]RunResult)
	require.Equal(t, "skipped", results[0].Status)
}

func TestSyncHandler_InfrastructureErrors(t *testing.T) {
	s := &fakeSyncer{}
	h, _ := newHandler(s)
	h.ListTenants = func(context.Context) ([]string, error) { return nil, errors.New("scan denied") }

	_, err := h.Handle(context.Background(), events.CloudWatchEvent{})
	require.ErrorContains(t, err, "scan denied")
	require.Empty(t, s.calls)
}

func TestSyncHandler_BadDetail(t *testing.T) {
	h, _ := newHandler(&fakeSyncer{})
	ctx := context.Background()

	_, err := h.Handle(ctx, events.CloudWatchEvent{Detail: json.RawMessage(`{"tenant":`)})
	require.Error(t, err)

	_, err = h.Handle(ctx, event(t, SyncDetail{Domain: "orders"}))
	require.Error(t, err)

	_, err = h.Handle(ctx, event(t, SyncDetail{Start: "2025-02-05", End: "2025-02-01"}))
	require.Error(t, err)

	_, err = h.Handle(ctx, event(t, SyncDetail{End: "2025-02-01"}))
	require.Error(t, err)
}

func TestSyncHandler_NoTenants(t *testing.T) {
	s := &fakeSyncer{}
	h, _ := newHandler(s)
	h.ListTenants = func(context.Context) ([]string, error) { return nil, nil }

	out, err := h.Handle(context.Background(), events.CloudWatchEvent{})
	require.NoError(t, err)
	require.Equal(t, 0, out["tenants"])
	require.Empty(t, s.calls)
}

func TestSyncHandler_FailedRunIsRetried(t *testing.T) {
	s := &fakeSyncer{fail: map[string]error{"acme/inventory": errors.New("report timed out")}}
	h, _ := newHandler(s)
	detail := SyncDetail{Tenant: "acme", Domain: "inventory"}

	out, err := h.Handle(context.Background(), eventWithID(t, "evt-1", detail))
	require.NoError(t, err)
	require.Equal(t, "failed", out["results"].([]RunResult)[0].Status)

	s.fail = nil

	// Next scheduled invocation, same detail.
	out, err = h.Handle(context.Background(), eventWithID(t, "evt-2", detail))
	require.NoError(t, err)
	require.Equal(t, "ok", out["results"].([]RunResult)[0].Status)

	// Redelivery of the failed event also runs, since its claim was released.
	out, err = h.Handle(context.Background(), eventWithID(t, "evt-1", detail))
	require.NoError(t, err)
	require.Equal(t, "ok", out["results"].([]RunResult)[0].Status)

	require.Len(t, s.calls, 3)
}

func TestSyncHandler_SameDetailNewEventRuns(t *testing.T) {
	s := &fakeSyncer{}
	h, _ := newHandler(s)
	detail := SyncDetail{Tenant: "acme", Domain: "inventory"}

	_, err := h.Handle(context.Background(), eventWithID(t, "evt-1", detail))
	require.NoError(t, err)
	_, err = h.Handle(context.Background(), eventWithID(t, "evt-2", detail))
	require.NoError(t, err)

	require.Len(t, s.calls, 2)
}
