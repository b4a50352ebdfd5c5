package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

type conditionalPut struct {
	keys map[string]bool
	last *dynamodb.PutItemInput
	err  error
}

func (c *conditionalPut) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	c.last = in
	if c.err != nil {
		return nil, c.err
	}
	pk := in.Item["PK"].(*types.AttributeValueMemberS).Value
	if c.keys[pk] {
		return nil, &types.ConditionalCheckFailedException{Message: new(string)}
	}
	c.keys[pk] = true
	return &dynamodb.PutItemOutput{}, nil
}

func (c *conditionalPut) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if c.err != nil {
		return nil, c.err
	}
	delete(c.keys, in.Key["PK"].(*types.AttributeValueMemberS).Value)
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestClaimRun(t *testing.T) {
	ddb := &conditionalPut{keys: map[string]bool{}}
	claims := NewRunClaims(ddb, "run-claims", time.Hour)
	claims.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	ctx := context.Background()

	key := RunKey("evt-1", "acme", "inventory")
	require.Equal(t, "RUN#evt-1#acme#inventory", key)

	dup, err := claims.ClaimRun(ctx, key, "run-1")
	require.NoError(t, err)
	require.False(t, dup)
	require.Equal(t, "attribute_not_exists(PK)", *ddb.last.ConditionExpression)
	require.Equal(t, &types.AttributeValueMemberN{Value: "1700003600"}, ddb.last.Item["ExpiresAt"])

	dup, err = claims.ClaimRun(ctx, key, "run-2")
	require.NoError(t, err)
	require.True(t, dup)
}

func TestClaimRun_NotConfigured(t *testing.T) {
	var nilClaims *RunClaims
	dup, err := nilClaims.ClaimRun(context.Background(), "RUN#x", "r")
	require.NoError(t, err)
	require.False(t, dup)

	dup, err = NewRunClaims(&conditionalPut{}, "", 0).ClaimRun(context.Background(), "RUN#x", "r")
	require.NoError(t, err)
	require.False(t, dup)
}

func TestClaimRun_PropagatesOtherErrors(t *testing.T) {
	ddb := &conditionalPut{keys: map[string]bool{}, err: errors.New("throttled")}
	_, err := NewRunClaims(ddb, "run-claims", 0).ClaimRun(context.Background(), "RUN#x", "r")
	require.ErrorContains(t, err, "throttled")
}

func TestReleaseRun_AllowsReclaim(t *testing.T) {
	ddb := &conditionalPut{keys: map[string]bool{}}
	claims := NewRunClaims(ddb, "run-claims", time.Hour)
	ctx := context.Background()
	key := RunKey("evt-1", "acme", "inventory")

	dup, err := claims.ClaimRun(ctx, key, "run-1")
	require.NoError(t, err)
	require.False(t, dup)

	require.NoError(t, claims.ReleaseRun(ctx, key))

	dup, err = claims.ClaimRun(ctx, key, "run-1")
	require.NoError(t, err)
	require.False(t, dup)
}

func TestReleaseRun_NotConfigured(t *testing.T) {
	var nilClaims *RunClaims
	require.NoError(t, nilClaims.ReleaseRun(context.Background(), "RUN#x"))
	require.NoError(t, NewRunClaims(&conditionalPut{}, "", 0).ReleaseRun(context.Background(), "RUN#x"))

	ddb := &conditionalPut{keys: map[string]bool{}, err: errors.New("throttled")}
	require.ErrorContains(t, NewRunClaims(ddb, "run-claims", 0).ReleaseRun(context.Background(), "RUN#x"), "throttled")
}
