package etl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"go.uber.org/zap"
)

type AthenaClient interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
}

type RepairConfig struct {
	Database  string
	Table     string
	Workgroup string
	Output    string // s3://bucket/prefix/
	Timeout   time.Duration
	Interval  time.Duration
}

type RepairResult struct {
	Ok        bool   `json:"ok"`
	QueryID   string `json:"query_id,omitempty"`
	State     string `json:"state,omitempty"`
	Database  string `json:"database,omitempty"`
	Table     string `json:"table,omitempty"`
	Workgroup string `json:"workgroup,omitempty"`
	Output    string `json:"output,omitempty"`
}

// Repairer registers new dt=/tenant_id= partitions of the exported table with Athena.
type Repairer struct {
	ath    AthenaClient
	logger *zap.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRepairer(ath AthenaClient, logger *zap.Logger) *Repairer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repairer{ath: ath, logger: logger, now: time.Now, sleep: sleepCtx}
}

func (r *Repairer) Repair(ctx context.Context, cfg RepairConfig) (RepairResult, error) {
	db := strings.TrimSpace(cfg.Database)
	table := strings.TrimSpace(cfg.Table)
	output := strings.TrimSpace(cfg.Output)
	workgroup := strings.TrimSpace(cfg.Workgroup)

	if db == "" || table == "" || output == "" {
		return RepairResult{Ok: false}, fmt.Errorf("missing env: ATHENA_DATABASE, ATHENA_TABLE, ATHENA_OUTPUT are required")
	}
	if !strings.HasPrefix(output, "s3://") {
		return RepairResult{Ok: false}, fmt.Errorf("ATHENA_OUTPUT must start with s3://")
	}
	if workgroup == "" {
		workgroup = "primary"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	q := fmt.Sprintf("MSCK REPAIR TABLE %s;", table)

	startOut, err := r.ath.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString: aws.String(q),
		QueryExecutionContext: &athenatypes.QueryExecutionContext{
			Database: aws.String(db),
		},
		WorkGroup: aws.String(workgroup),
		ResultConfiguration: &athenatypes.ResultConfiguration{
			OutputLocation: aws.String(output),
		},
	})
	if err != nil {
		return RepairResult{Ok: false}, fmt.Errorf("StartQueryExecution: %w", err)
	}

	qid := aws.ToString(startOut.QueryExecutionId)
	r.logger.Info("repair started",
		zap.String("query_id", qid),
		zap.String("database", db),
		zap.String("table", table),
		zap.String("workgroup", workgroup),
	)

	deadline := r.now().Add(timeout)
	for r.now().Before(deadline) {
		st, err := r.ath.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(qid),
		})
		if err != nil {
			return RepairResult{Ok: false, QueryID: qid}, fmt.Errorf("GetQueryExecution: %w", err)
		}
		state := st.QueryExecution.Status.State
		switch state {
		case athenatypes.QueryExecutionStateSucceeded:
			r.logger.Info("repair succeeded", zap.String("query_id", qid))
			return RepairResult{
				Ok:        true,
				QueryID:   qid,
				State:     string(state),
				Database:  db,
				Table:     table,
				Workgroup: workgroup,
				Output:    output,
			}, nil
		case athenatypes.QueryExecutionStateFailed, athenatypes.QueryExecutionStateCancelled:
			reason := aws.ToString(st.QueryExecution.Status.StateChangeReason)
			return RepairResult{Ok: false, QueryID: qid, State: string(state)}, fmt.Errorf("repair %s: %s", state, reason)
		}
		if err := r.sleep(ctx, interval); err != nil {
			return RepairResult{Ok: false, QueryID: qid}, err
		}
	}

	return RepairResult{Ok: false, QueryID: qid, State: "TIMEOUT"}, fmt.Errorf("repair timed out waiting for qid=%s", qid)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
