package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// SortKey is the integrations item sort key for a Selling Partner connection.
const SortKey = "AMAZON#SPAPI"

type DDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Decrypter opens the *Enc attributes. *security.Cipher satisfies it.
type Decrypter interface {
	Decrypt(b64url string) (string, error)
}

// IntegrationItem mirrors the DynamoDB structure.
type IntegrationItem struct {
	PK              string `dynamodbav:"PK"`
	SK              string `dynamodbav:"SK"`
	ClientID        string `dynamodbav:"ClientId"`
	ClientSecretEnc string `dynamodbav:"ClientSecretEnc"`
	RefreshTokenEnc string `dynamodbav:"RefreshTokenEnc"`
	MarketplaceID   string `dynamodbav:"MarketplaceId"`
	CreatedAt       string `dynamodbav:"CreatedAt"`
	Disabled        bool   `dynamodbav:"Disabled,omitempty"`
}

// DynamoStore reads credentials from the integrations table.
// PK = TENANT#<tenant>
// SK = AMAZON#SPAPI
type DynamoStore struct {
	ddb    DDBClient
	table  string
	cipher Decrypter
}

func NewDynamoStore(ddb DDBClient, table string, cipher Decrypter) *DynamoStore {
	return &DynamoStore{ddb: ddb, table: table, cipher: cipher}
}

func TenantKey(tenant string) string {
	return fmt.Sprintf("TENANT#%s", tenant)
}

func (s *DynamoStore) key(tenant string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: TenantKey(tenant)},
		"SK": &types.AttributeValueMemberS{Value: SortKey},
	}
}

func (s *DynamoStore) Get(ctx context.Context, tenant string) (*Credential, error) {
	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		return nil, errors.New("missing tenant")
	}
	if strings.TrimSpace(s.table) == "" {
		return nil, errors.New("INTEGRATIONS_TABLE not configured")
	}
	if s.cipher == nil {
		return nil, errors.New("token encryption key not configured")
	}

	out, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       s.key(tenant),
	})
	if err != nil {
		return nil, fmt.Errorf("load integration %s: %w", tenant, err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, tenant)
	}

	var integ IntegrationItem
	if err := attributevalue.UnmarshalMap(out.Item, &integ); err != nil {
		return nil, err
	}
	if integ.Disabled {
		return nil, fmt.Errorf("%w: %s (disabled)", ErrNotConnected, tenant)
	}

	if strings.TrimSpace(integ.ClientSecretEnc) == "" || strings.TrimSpace(integ.RefreshTokenEnc) == "" {
		return nil, fmt.Errorf("integration %s: missing encrypted secrets on record", tenant)
	}
	secret, err := s.cipher.Decrypt(integ.ClientSecretEnc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt client secret: %w", err)
	}
	refresh, err := s.cipher.Decrypt(integ.RefreshTokenEnc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	return &Credential{
		Tenant:        tenant,
		ClientID:      strings.TrimSpace(integ.ClientID),
		ClientSecret:  secret,
		RefreshToken:  refresh,
		MarketplaceID: strings.TrimSpace(integ.MarketplaceID),
	}, nil
}

// MarkSynced records the last successful sync of one domain on the integration item.
func (s *DynamoStore) MarkSynced(ctx context.Context, tenant, domain string, at time.Time, rows int) error {
	if strings.TrimSpace(tenant) == "" || strings.TrimSpace(domain) == "" {
		return fmt.Errorf("missing tenant/domain")
	}
	suffix := attrSuffix(domain)

	_, err := s.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(tenant),
		UpdateExpression:    aws.String("SET #a = :a, #r = :r"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{
			"#a": "LastSyncAt" + suffix,
			"#r": "LastSyncRows" + suffix,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":a": &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339)},
			":r": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rows)},
		},
	})
	return err
}

// attrSuffix turns sales_traffic into SalesTraffic.
func attrSuffix(domain string) string {
	parts := strings.Split(domain, "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
