package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type ClaimsAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// RunClaims records which (event, tenant, domain) runs have started so a redelivered
// EventBridge event is skipped. A failed run releases its claim.
type RunClaims struct {
	ddb   ClaimsAPI
	table string
	ttl   time.Duration
	now   func() time.Time
}

func NewRunClaims(ddb ClaimsAPI, table string, ttl time.Duration) *RunClaims {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RunClaims{ddb: ddb, table: table, ttl: ttl, now: time.Now}
}

// RunKey identifies one delivery of a scheduled event for a tenant and domain.
func RunKey(eventID, tenant, domain string) string {
	return fmt.Sprintf("RUN#%s#%s#%s", eventID, tenant, domain)
}

// ClaimRun returns (isDuplicate, error). If duplicate, the caller should skip the run.
func (c *RunClaims) ClaimRun(ctx context.Context, runKey, runID string) (bool, error) {
	if c == nil || strings.TrimSpace(c.table) == "" {
		// If not configured, don't block processing
		return false, nil
	}
	runKey = strings.TrimSpace(runKey)
	if runKey == "" {
		return false, nil
	}

	now := c.now().UTC()
	exp := now.Add(c.ttl).Unix()

	_, err := c.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: runKey},
			"RunId":     &types.AttributeValueMemberS{Value: runID},
			"CreatedAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			"ExpiresAt": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", exp)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		// Conditional check failed => already claimed
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// ReleaseRun drops a claim so a redelivery of the same event runs again.
func (c *RunClaims) ReleaseRun(ctx context.Context, runKey string) error {
	if c == nil || strings.TrimSpace(c.table) == "" {
		return nil
	}
	runKey = strings.TrimSpace(runKey)
	if runKey == "" {
		return nil
	}
	_, err := c.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: runKey},
		},
	})
	if err != nil {
		return fmt.Errorf("release run %s: %w", runKey, err)
	}
	return nil
}
