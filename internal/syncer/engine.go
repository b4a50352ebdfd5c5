package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"sellersync/internal/archive"
	"sellersync/internal/credentials"
	"sellersync/internal/model"
	"sellersync/internal/normalize"
	"sellersync/internal/spapi"
)

const (
	ReportTypeSalesTraffic = "GET_SALES_AND_TRAFFIC_REPORT"
	ReportTypeInventory    = "GET_FBA_MYI_UNSUPPRESSED_INVENTORY_DATA"
)

// ErrMultiDayRange rejects sales/traffic requests that span more than one day. The report
// has no per-row date, so every row is stamped with the start day.
var ErrMultiDayRange = errors.New("sales/traffic sync must cover exactly one day")

type ReportRunner interface {
	RunReport(ctx context.Context, cred credentials.Credential, req spapi.ReportRequest) (*spapi.ReportJob, *spapi.ReportDocument, error)
}

type DocumentFetcher interface {
	Download(ctx context.Context, doc *spapi.ReportDocument) ([]byte, error)
}

type TransactionLister interface {
	EachTransactionsPage(ctx context.Context, cred credentials.Credential, postedAfter, postedBefore time.Time, fn func(*spapi.TransactionsPage) error) error
}

type RowWriter interface {
	UpsertSalesTraffic(ctx context.Context, tenant string, rows []model.SalesTrafficRow) (int, error)
	UpsertFinancialTransactions(ctx context.Context, tenant string, txs []model.FinancialTransaction) (int, error)
	UpsertInventory(ctx context.Context, tenant string, rows []model.InventoryRow) (int, error)
}

type Archiver interface {
	Put(ctx context.Context, doc archive.Document) (string, error)
}

type Exporter interface {
	ExportSalesTraffic(ctx context.Context, tenant string, rows []model.SalesTrafficRow) ([]string, error)
}

type StatusRecorder interface {
	MarkSynced(ctx context.Context, tenant, domain string, at time.Time, rows int) error
}

// Deps wires an Engine. Archive, Exporter and Status are optional.
type Deps struct {
	Credentials credentials.Store
	Reports     ReportRunner
	Documents   DocumentFetcher
	Finances    TransactionLister
	Rows        RowWriter

	Archive  Archiver
	Exporter Exporter
	Status   StatusRecorder

	Clock  spapi.Clock
	Logger *zap.Logger
}

// Engine runs one domain sync at a time per call: credential, report job, download,
// normalize, upsert. Calls for different domains share nothing but the token cache
// behind Reports and Finances.
type Engine struct {
	creds    credentials.Store
	reports  ReportRunner
	docs     DocumentFetcher
	finances TransactionLister
	rows     RowWriter

	archive  Archiver
	exporter Exporter
	status   StatusRecorder

	clock  spapi.Clock
	logger *zap.Logger
	tracer trace.Tracer
}

func New(d Deps) *Engine {
	if d.Clock == nil {
		d.Clock = spapi.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Engine{
		creds:    d.Credentials,
		reports:  d.Reports,
		docs:     d.Documents,
		finances: d.Finances,
		rows:     d.Rows,
		archive:  d.Archive,
		exporter: d.Exporter,
		status:   d.Status,
		clock:    d.Clock,
		logger:   d.Logger,
		tracer:   otel.Tracer("sellersync/internal/syncer"),
	}
}

// SyncSalesTraffic pulls one day of per-child-ASIN sales and traffic. start and end must
// fall on the same UTC day.
func (e *Engine) SyncSalesTraffic(ctx context.Context, tenant string, start, end time.Time) (n int, err error) {
	day := startOfDay(start)
	endDay := startOfDay(end)
	if endDay.Before(day) {
		return 0, fmt.Errorf("sales/traffic: end %s before start %s", model.DateKey(end), model.DateKey(start))
	}
	if !endDay.Equal(day) {
		return 0, fmt.Errorf("%w: %s..%s", ErrMultiDayRange, model.DateKey(start), model.DateKey(end))
	}

	ctx, span := e.startSpan(ctx, model.DomainSalesTraffic, tenant, attribute.String("date", model.DateKey(day)))
	defer func() { e.endSpan(span, n, err) }()

	cred, err := e.credential(ctx, tenant)
	if err != nil {
		return 0, err
	}

	dataEnd := day.Add(24*time.Hour - time.Second)
	job, doc, err := e.reports.RunReport(ctx, *cred, spapi.ReportRequest{
		ReportType:    ReportTypeSalesTraffic,
		DataStartTime: &day,
		DataEndTime:   &dataEnd,
		ReportOptions: map[string]string{
			"dateGranularity": "DAY",
			"asinGranularity": "CHILD",
		},
	})
	if err != nil {
		return 0, err
	}

	data, err := e.docs.Download(ctx, doc)
	if err != nil {
		return 0, err
	}
	rows, err := normalize.SalesTraffic(data, day)
	if err != nil {
		return 0, err
	}

	n, err = e.rows.UpsertSalesTraffic(ctx, tenant, rows)
	if err != nil {
		return n, err
	}

	e.archiveDocument(ctx, tenant, model.DomainSalesTraffic, job.ReportID, "json", data)
	if e.exporter != nil && len(rows) > 0 {
		if _, xerr := e.exporter.ExportSalesTraffic(ctx, tenant, rows); xerr != nil {
			e.logger.Warn("parquet export failed", zap.String("tenant", tenant), zap.Error(xerr))
		}
	}
	e.markSynced(ctx, tenant, model.DomainSalesTraffic, n)

	e.logger.Info("sales/traffic synced",
		zap.String("tenant", tenant),
		zap.String("date", model.DateKey(day)),
		zap.String("report_id", job.ReportID),
		zap.Int("rows", n),
	)
	return n, nil
}

// SyncSalesTrafficDays backfills from..to inclusive, one single-day report per day. It
// stops at the first failing day and returns the rows written so far.
func (e *Engine) SyncSalesTrafficDays(ctx context.Context, tenant string, from, to time.Time) (int, error) {
	first, last := startOfDay(from), startOfDay(to)
	if last.Before(first) {
		return 0, fmt.Errorf("sales/traffic: end %s before start %s", model.DateKey(to), model.DateKey(from))
	}

	total := 0
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		n, err := e.SyncSalesTraffic(ctx, tenant, d, d)
		total += n
		if err != nil {
			return total, fmt.Errorf("sales/traffic %s: %w", model.DateKey(d), err)
		}
	}
	return total, nil
}

// SyncFinancialEvents pages through posted transactions in (postedAfter, postedBefore) and
// upserts each page as it arrives.
func (e *Engine) SyncFinancialEvents(ctx context.Context, tenant string, postedAfter, postedBefore time.Time) (n int, err error) {
	if !postedBefore.IsZero() && !postedBefore.After(postedAfter) {
		return 0, fmt.Errorf("financial events: postedBefore must be after postedAfter")
	}

	ctx, span := e.startSpan(ctx, model.DomainFinancialEvents, tenant,
		attribute.String("posted_after", postedAfter.UTC().Format(time.RFC3339)),
	)
	defer func() { e.endSpan(span, n, err) }()

	cred, err := e.credential(ctx, tenant)
	if err != nil {
		return 0, err
	}

	var raw []json.RawMessage
	pages := 0
	err = e.finances.EachTransactionsPage(ctx, *cred, postedAfter, postedBefore, func(p *spapi.TransactionsPage) error {
		pages++
		txs := normalize.FinancialTransactions(p.Transactions)
		written, err := e.rows.UpsertFinancialTransactions(ctx, tenant, txs)
		n += written
		if err != nil {
			return err
		}
		if e.archive != nil {
			raw = append(raw, p.Transactions...)
		}
		return nil
	})
	if err != nil {
		return n, err
	}

	if e.archive != nil {
		body, merr := json.Marshal(map[string]any{"transactions": raw})
		if merr == nil {
			source := fmt.Sprintf("%s_%s", postedAfter.UTC().Format("20060102T150405Z"), postedBefore.UTC().Format("20060102T150405Z"))
			e.archiveDocument(ctx, tenant, model.DomainFinancialEvents, source, "json", body)
		}
	}
	e.markSynced(ctx, tenant, model.DomainFinancialEvents, n)

	e.logger.Info("financial events synced",
		zap.String("tenant", tenant),
		zap.Time("posted_after", postedAfter),
		zap.Time("posted_before", postedBefore),
		zap.Int("pages", pages),
		zap.Int("rows", n),
	)
	return n, nil
}

// SyncInventory snapshots current FBA inventory, stamped with today's UTC date.
func (e *Engine) SyncInventory(ctx context.Context, tenant string) (n int, err error) {
	today := startOfDay(e.clock.Now())

	ctx, span := e.startSpan(ctx, model.DomainInventory, tenant, attribute.String("date", model.DateKey(today)))
	defer func() { e.endSpan(span, n, err) }()

	cred, err := e.credential(ctx, tenant)
	if err != nil {
		return 0, err
	}

	job, doc, err := e.reports.RunReport(ctx, *cred, spapi.ReportRequest{ReportType: ReportTypeInventory})
	if err != nil {
		return 0, err
	}
	data, err := e.docs.Download(ctx, doc)
	if err != nil {
		return 0, err
	}
	rows := normalize.Inventory(data, today)

	n, err = e.rows.UpsertInventory(ctx, tenant, rows)
	if err != nil {
		return n, err
	}

	e.archiveDocument(ctx, tenant, model.DomainInventory, job.ReportID, "tsv", data)
	e.markSynced(ctx, tenant, model.DomainInventory, n)

	e.logger.Info("inventory synced",
		zap.String("tenant", tenant),
		zap.String("report_id", job.ReportID),
		zap.Int("rows", n),
	)
	return n, nil
}

func (e *Engine) credential(ctx context.Context, tenant string) (*credentials.Credential, error) {
	cred, err := e.creds.Get(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, fmt.Errorf("%w: %s", credentials.ErrNotConnected, tenant)
	}
	return cred, nil
}

func (e *Engine) archiveDocument(ctx context.Context, tenant string, domain model.Domain, source, format string, body []byte) {
	if e.archive == nil {
		return
	}
	key, err := e.archive.Put(ctx, archive.Document{
		Tenant:   tenant,
		Domain:   string(domain),
		SourceID: source,
		Format:   format,
		Fetched:  e.clock.Now(),
		Body:     body,
	})
	if err != nil {
		e.logger.Warn("raw archive failed", zap.String("tenant", tenant), zap.String("domain", string(domain)), zap.Error(err))
		return
	}
	e.logger.Debug("raw document archived", zap.String("key", key))
}

func (e *Engine) markSynced(ctx context.Context, tenant string, domain model.Domain, rows int) {
	if e.status == nil {
		return
	}
	if err := e.status.MarkSynced(ctx, tenant, string(domain), e.clock.Now(), rows); err != nil {
		e.logger.Warn("mark synced failed", zap.String("tenant", tenant), zap.String("domain", string(domain)), zap.Error(err))
	}
}

func (e *Engine) startSpan(ctx context.Context, domain model.Domain, tenant string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("tenant", tenant), attribute.String("domain", string(domain)))
	return e.tracer.Start(ctx, "sync."+string(domain), trace.WithAttributes(attrs...))
}

func (e *Engine) endSpan(span trace.Span, n int, err error) {
	span.SetAttributes(attribute.Int("rows", n))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Kind(err))
	}
	span.End()
}

func startOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
