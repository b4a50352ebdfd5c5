package tenancy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type DDBClient interface {
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// ListTenants scans the integrations table for Selling Partner connections and returns
// their tenant ids, sorted and de-duplicated. Disabled integrations are skipped.
func ListTenants(ctx context.Context, ddb DDBClient, table, sortKey string) ([]string, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, fmt.Errorf("missing INTEGRATIONS_TABLE")
	}

	var tenants []string
	var startKey map[string]ddbtypes.AttributeValue
	for {
		out, err := ddb.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(table),
			FilterExpression: aws.String("#sk = :sk AND (attribute_not_exists(#d) OR #d = :f)"),
			ExpressionAttributeNames: map[string]string{
				"#pk": "PK",
				"#sk": "SK",
				"#d":  "Disabled",
			},
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":sk": &ddbtypes.AttributeValueMemberS{Value: sortKey},
				":f":  &ddbtypes.AttributeValueMemberBOOL{Value: false},
			},
			ProjectionExpression: aws.String("#pk"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan integrations failed: %w", err)
		}

		for _, it := range out.Items {
			if v, ok := it["PK"]; ok {
				if sv, ok2 := v.(*ddbtypes.AttributeValueMemberS); ok2 {
					t := strings.TrimSpace(strings.TrimPrefix(sv.Value, "TENANT#"))
					if t != "" && t != sv.Value {
						tenants = append(tenants, t)
					}
				}
			}
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	out := uniqueStrings(tenants)
	sort.Strings(out)
	return out, nil
}

func uniqueStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		k := strings.TrimSpace(v)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}
