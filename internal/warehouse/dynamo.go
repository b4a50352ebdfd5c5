package warehouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type PutItemAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoWriter stores every logical table in one DynamoDB table.
// PK = TENANT#<tenant_id>
// SK = <table>#<remaining key values joined by #>
// PutItem replaces the whole item, so a repeated key overwrites all attributes.
type DynamoWriter struct {
	ddb   PutItemAPI
	table string
}

func NewDynamoWriter(ddb PutItemAPI, table string) *DynamoWriter {
	return &DynamoWriter{ddb: ddb, table: table}
}

func (w *DynamoWriter) Upsert(ctx context.Context, table string, keyColumns []string, row Record) (bool, error) {
	tbl := strings.TrimSpace(w.table)
	if tbl == "" {
		return false, fmt.Errorf("WAREHOUSE_TABLE not set")
	}

	pk, sk, err := dynamoKey(table, keyColumns, row)
	if err != nil {
		return false, err
	}

	item, err := attributevalue.MarshalMap(map[string]any(row))
	if err != nil {
		return false, fmt.Errorf("marshal %s row: %w", table, err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["Table"] = &types.AttributeValueMemberS{Value: table}

	if _, err := w.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(tbl),
		Item:      item,
	}); err != nil {
		return false, fmt.Errorf("dynamodb put %s: %w", table, err)
	}
	return true, nil
}

func dynamoKey(table string, keyColumns []string, row Record) (string, string, error) {
	vals, err := keyValues(keyColumns, row)
	if err != nil {
		return "", "", err
	}

	pk := ""
	rest := make([]string, 0, len(vals))
	for i, k := range keyColumns {
		if k == ColTenantID && pk == "" {
			pk = fmt.Sprintf("TENANT#%s", vals[i])
			continue
		}
		rest = append(rest, vals[i])
	}
	if pk == "" {
		pk = fmt.Sprintf("TABLE#%s", table)
	}
	sk := table
	if len(rest) > 0 {
		sk += "#" + strings.Join(rest, "#")
	}
	return pk, sk, nil
}
