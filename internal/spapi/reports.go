package spapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"sellersync/internal/credentials"
)

const (
	reportsPath = "/reports/2021-06-30"

	DefaultPollInterval = 15 * time.Second
	DefaultMaxPolls     = 12
)

// ReportStatus is the platform's processingStatus.
type ReportStatus string

const (
	ReportInQueue    ReportStatus = "IN_QUEUE"
	ReportInProgress ReportStatus = "IN_PROGRESS"
	ReportDone       ReportStatus = "DONE"
	ReportCancelled  ReportStatus = "CANCELLED"
	ReportFatal      ReportStatus = "FATAL"
)

// JobState is where a ReportJob sits in its lifecycle.
type JobState string

const (
	JobCreated   JobState = "CREATED"
	JobDone      JobState = "DONE"
	JobCancelled JobState = "CANCELLED"
	JobFatal     JobState = "FATAL"
	JobTimedOut  JobState = "TIMED_OUT"
)

type ReportRequest struct {
	ReportType     string
	MarketplaceIDs []string
	DataStartTime  *time.Time
	DataEndTime    *time.Time
	ReportOptions  map[string]string
}

// ReportJob lives for one sync call and is never persisted.
type ReportJob struct {
	ReportID         string
	ReportType       string
	MarketplaceID    string
	State            JobState
	Status           ReportStatus
	ReportDocumentID string
	Polls            int
}

type ReportDocument struct {
	ReportDocumentID     string `json:"reportDocumentId"`
	URL                  string `json:"url"`
	CompressionAlgorithm string `json:"compressionAlgorithm,omitempty"`
}

// Reports drives create → poll → resolve-document for bulk report types.
type Reports struct {
	PollInterval time.Duration
	MaxPolls     int

	client Doer
	clock  Clock
	logger *zap.Logger
}

func NewReports(client Doer, clock Clock, logger *zap.Logger) *Reports {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reports{
		PollInterval: DefaultPollInterval,
		MaxPolls:     DefaultMaxPolls,
		client:       client,
		clock:        clock,
		logger:       logger,
	}
}

type createReportBody struct {
	ReportType     string            `json:"reportType"`
	MarketplaceIDs []string          `json:"marketplaceIds"`
	DataStartTime  string            `json:"dataStartTime,omitempty"`
	DataEndTime    string            `json:"dataEndTime,omitempty"`
	ReportOptions  map[string]string `json:"reportOptions,omitempty"`
}

func (r *Reports) CreateReport(ctx context.Context, cred credentials.Credential, req ReportRequest) (*ReportJob, error) {
	if req.ReportType == "" {
		return nil, fmt.Errorf("missing report type")
	}
	marketplaces := req.MarketplaceIDs
	if len(marketplaces) == 0 && cred.MarketplaceID != "" {
		marketplaces = []string{cred.MarketplaceID}
	}
	if len(marketplaces) == 0 {
		return nil, fmt.Errorf("missing marketplace id for tenant %s", cred.Tenant)
	}

	body := createReportBody{
		ReportType:     req.ReportType,
		MarketplaceIDs: marketplaces,
		ReportOptions:  req.ReportOptions,
	}
	if req.DataStartTime != nil {
		body.DataStartTime = req.DataStartTime.UTC().Format(time.RFC3339)
	}
	if req.DataEndTime != nil {
		body.DataEndTime = req.DataEndTime.UTC().Format(time.RFC3339)
	}

	resp, err := r.client.Do(ctx, cred, Request{Method: http.MethodPost, Path: reportsPath + "/reports", Body: body})
	if err != nil {
		return nil, fmt.Errorf("create report %s: %w", req.ReportType, err)
	}
	if err := CheckStatus(resp, "createReport"); err != nil {
		return nil, err
	}

	var out struct {
		ReportID string `json:"reportId"`
	}
	if err := DecodeJSON(resp.Body, &out); err != nil {
		return nil, err
	}
	if out.ReportID == "" {
		return nil, &DecodeError{Format: "createReport response", Err: fmt.Errorf("missing reportId")}
	}

	r.logger.Info("report requested",
		zap.String("tenant", cred.Tenant),
		zap.String("report_type", req.ReportType),
		zap.String("report_id", out.ReportID),
	)

	return &ReportJob{
		ReportID:      out.ReportID,
		ReportType:    req.ReportType,
		MarketplaceID: marketplaces[0],
		State:         JobCreated,
	}, nil
}

// WaitForReport polls at a fixed interval until the job is DONE, fails, or the poll
// budget runs out. Each poll waits first, so the ceiling is MaxPolls * PollInterval.
func (r *Reports) WaitForReport(ctx context.Context, cred credentials.Credential, job *ReportJob) error {
	path := reportsPath + "/reports/" + url.PathEscape(job.ReportID)

	for attempt := 1; attempt <= r.MaxPolls; attempt++ {
		if err := r.clock.Sleep(ctx, r.PollInterval); err != nil {
			return err
		}

		resp, err := r.client.Do(ctx, cred, Request{Method: http.MethodGet, Path: path})
		if err != nil {
			return fmt.Errorf("get report %s: %w", job.ReportID, err)
		}
		if err := CheckStatus(resp, "getReport"); err != nil {
			return err
		}

		var out struct {
			ProcessingStatus ReportStatus `json:"processingStatus"`
			ReportDocumentID string       `json:"reportDocumentId"`
		}
		if err := DecodeJSON(resp.Body, &out); err != nil {
			return err
		}
		job.Status = out.ProcessingStatus
		job.Polls = attempt

		switch out.ProcessingStatus {
		case ReportDone:
			job.State = JobDone
			job.ReportDocumentID = out.ReportDocumentID
			return nil
		case ReportCancelled:
			job.State = JobCancelled
			return &ReportFailedError{ReportID: job.ReportID, Status: out.ProcessingStatus}
		case ReportFatal:
			job.State = JobFatal
			return &ReportFailedError{ReportID: job.ReportID, Status: out.ProcessingStatus}
		default:
			r.logger.Debug("report pending",
				zap.String("report_id", job.ReportID),
				zap.String("status", string(out.ProcessingStatus)),
				zap.Int("attempt", attempt),
			)
		}
	}

	job.State = JobTimedOut
	return &ReportTimeoutError{
		ReportID: job.ReportID,
		Attempts: r.MaxPolls,
		Waited:   time.Duration(r.MaxPolls) * r.PollInterval,
	}
}

func (r *Reports) GetReportDocument(ctx context.Context, cred credentials.Credential, documentID string) (*ReportDocument, error) {
	if documentID == "" {
		return nil, fmt.Errorf("missing report document id")
	}
	resp, err := r.client.Do(ctx, cred, Request{
		Method: http.MethodGet,
		Path:   reportsPath + "/documents/" + url.PathEscape(documentID),
	})
	if err != nil {
		return nil, fmt.Errorf("get report document %s: %w", documentID, err)
	}
	if err := CheckStatus(resp, "getReportDocument"); err != nil {
		return nil, err
	}

	var doc ReportDocument
	if err := DecodeJSON(resp.Body, &doc); err != nil {
		return nil, err
	}
	if doc.URL == "" {
		return nil, &DecodeError{Format: "report document", Err: fmt.Errorf("missing url")}
	}
	return &doc, nil
}

// RunReport creates a report, waits for it and resolves its document.
func (r *Reports) RunReport(ctx context.Context, cred credentials.Credential, req ReportRequest) (*ReportJob, *ReportDocument, error) {
	job, err := r.CreateReport(ctx, cred, req)
	if err != nil {
		return nil, nil, err
	}
	if err := r.WaitForReport(ctx, cred, job); err != nil {
		return job, nil, err
	}
	doc, err := r.GetReportDocument(ctx, cred, job.ReportDocumentID)
	if err != nil {
		return job, nil, err
	}
	return job, doc, nil
}
