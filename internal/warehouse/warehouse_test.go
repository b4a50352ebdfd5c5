package warehouse

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"sellersync/internal/model"
)

var testDay = time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)

func salesRow(asin string, units int64) model.SalesTrafficRow {
	return model.SalesTrafficRow{
		Date:                testDay,
		ParentASIN:          "B0PARENT",
		ChildASIN:           asin,
		UnitsOrdered:        units,
		OrderedProductSales: model.Money{Amount: "10.00", CurrencyCode: "USD"},
		Sessions:            units * 3,
	}
}

func TestUpserter_OverwritesOnRepeatedKey(t *testing.T) {
	mem := NewMemoryWriter()
	u := NewUpserter(mem, Tables{})
	ctx := context.Background()

	n, err := u.UpsertSalesTraffic(ctx, "t1", []model.SalesTrafficRow{salesRow("B01", 1), salesRow("B02", 2)})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = u.UpsertSalesTraffic(ctx, "t1", []model.SalesTrafficRow{salesRow("B01", 9)})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rows := mem.Rows("amazon_sales_traffic")
	require.Len(t, rows, 2)
	require.EqualValues(t, 9, rows[0]["units_ordered"])
	require.EqualValues(t, 27, rows[0]["sessions"])
	require.EqualValues(t, 2, rows[1]["units_ordered"])
}

func TestUpserter_TenantIsPartOfKey(t *testing.T) {
	mem := NewMemoryWriter()
	u := NewUpserter(mem, Tables{})
	ctx := context.Background()

	inv := []model.InventoryRow{{Date: testDay, SKU: "SKU-A", TotalQuantity: 4}}
	_, err := u.UpsertInventory(ctx, "t1", inv)
	require.NoError(t, err)
	_, err = u.UpsertInventory(ctx, "t2", inv)
	require.NoError(t, err)

	require.Equal(t, 2, mem.Len("amazon_inventory"))
}

func TestUpserter_Idempotent(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("upserting a batch twice equals upserting it once", prop.ForAll(
		func(units []int64, skuIdx []int) bool {
			ctx := context.Background()
			var sales []model.SalesTrafficRow
			for i, v := range units {
				sales = append(sales, salesRow(fmt.Sprintf("B%02d", i%5), v))
			}
			var inv []model.InventoryRow
			for i, v := range skuIdx {
				inv = append(inv, model.InventoryRow{Date: testDay, SKU: fmt.Sprintf("SKU-%d", v), TotalQuantity: int64(i)})
			}

			once := NewMemoryWriter()
			twice := NewMemoryWriter()
			for _, w := range []*MemoryWriter{once, twice, twice} {
				u := NewUpserter(w, Tables{})
				if _, err := u.UpsertSalesTraffic(ctx, "t1", sales); err != nil {
					return false
				}
				if _, err := u.UpsertInventory(ctx, "t1", inv); err != nil {
					return false
				}
			}
			return reflect.DeepEqual(once.Rows("amazon_sales_traffic"), twice.Rows("amazon_sales_traffic")) &&
				reflect.DeepEqual(once.Rows("amazon_inventory"), twice.Rows("amazon_inventory"))
		},
		gen.SliceOf(gen.Int64Range(0, 1000)),
		gen.SliceOf(gen.IntRange(0, 8)),
	))

	properties.TestingRun(t)
}

type failingWriter struct {
	mu       sync.Mutex
	failAt   int
	calls    int
	inner    *MemoryWriter
	failWith error
}

func (f *failingWriter) Upsert(ctx context.Context, table string, keys []string, row Record) (bool, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if n == f.failAt {
		return false, f.failWith
	}
	return f.inner.Upsert(ctx, table, keys, row)
}

func TestUpserter_PartialFailureKeepsEarlierRows(t *testing.T) {
	boom := errors.New("boom")
	fw := &failingWriter{failAt: 3, inner: NewMemoryWriter(), failWith: boom}
	u := NewUpserter(fw, Tables{})

	txs := []model.FinancialTransaction{{TransactionID: "a"}, {TransactionID: "b"}, {TransactionID: "c"}, {TransactionID: "d"}}
	n, err := u.UpsertFinancialTransactions(context.Background(), "t1", txs)

	require.ErrorIs(t, err, boom)
	require.Equal(t, 2, n)
	require.Equal(t, 2, fw.inner.Len("amazon_financial_transactions"))
	require.Equal(t, 3, fw.calls)
}

func TestMemoryWriter_RejectsMissingKey(t *testing.T) {
	_, err := NewMemoryWriter().Upsert(context.Background(), "x", []string{"tenant_id", "sku"}, Record{"tenant_id": "t1"})
	require.Error(t, err)

	_, err = NewMemoryWriter().Upsert(context.Background(), "x", []string{"tenant_id"}, Record{"tenant_id": "  "})
	require.Error(t, err)
}

func TestBuildUpsert(t *testing.T) {
	row := InventoryRecord("t1", model.InventoryRow{Date: testDay, SKU: "SKU-A", TotalQuantity: 5})

	sql, args, err := BuildUpsert("analytics.amazon_inventory", InventoryKey, row)
	require.NoError(t, err)
	require.Equal(t,
		`INSERT INTO "analytics"."amazon_inventory" ("date", "sku", "tenant_id", "total_quantity") `+
			`VALUES ($1, $2, $3, $4) ON CONFLICT ("tenant_id", "sku", "date") `+
			`DO UPDATE SET "total_quantity" = EXCLUDED."total_quantity"`,
		sql)
	require.Equal(t, []any{"2025-03-09", "SKU-A", "t1", int64(5)}, args)
}

func TestBuildUpsert_OnlyKeysDoesNothing(t *testing.T) {
	sql, _, err := BuildUpsert("t", []string{"a"}, Record{"a": 1})
	require.NoError(t, err)
	require.Equal(t, `INSERT INTO "t" ("a") VALUES ($1) ON CONFLICT ("a") DO NOTHING`, sql)
}

func TestBuildUpsert_QuotesIdentifiers(t *testing.T) {
	sql, _, err := BuildUpsert(`odd"table`, []string{"id"}, Record{"id": 1, `x"; drop`: 2})
	require.NoError(t, err)
	require.Contains(t, sql, `"odd""table"`)
	require.Contains(t, sql, `"x""; drop"`)
}

type fakeExec struct {
	sql  string
	args []any
	tag  string
	err  error
}

func (f *fakeExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql, f.args = sql, args
	return pgconn.NewCommandTag(f.tag), f.err
}

func TestPostgresWriter_Upsert(t *testing.T) {
	db := &fakeExec{tag: "INSERT 0 1"}
	w := NewPostgresWriter(db)

	applied, err := w.Upsert(context.Background(), "amazon_financial_transactions", FinancialKey,
		FinancialRecord("t1", model.FinancialTransaction{TransactionID: "tx-1", Amount: "1.00"}))
	require.NoError(t, err)
	require.True(t, applied)
	require.Contains(t, db.sql, `ON CONFLICT ("tenant_id", "transaction_id") DO UPDATE SET`)
	require.NotContains(t, db.sql, `"transaction_id" = EXCLUDED`)

	db.err = errors.New("conn reset")
	_, err = w.Upsert(context.Background(), "amazon_financial_transactions", FinancialKey,
		FinancialRecord("t1", model.FinancialTransaction{TransactionID: "tx-1"}))
	require.ErrorContains(t, err, "conn reset")
}

type fakePut struct {
	items []map[string]types.AttributeValue
	table string
}

func (f *fakePut) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.table = *in.TableName
	f.items = append(f.items, in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func TestDynamoWriter_Keys(t *testing.T) {
	ddb := &fakePut{}
	w := NewDynamoWriter(ddb, "warehouse")

	row := InventoryRecord("t1", model.InventoryRow{Date: testDay, SKU: "SKU-A", TotalQuantity: 5})
	applied, err := w.Upsert(context.Background(), "amazon_inventory", InventoryKey, row)
	require.NoError(t, err)
	require.True(t, applied)

	require.Equal(t, "warehouse", ddb.table)
	item := ddb.items[0]
	require.Equal(t, &types.AttributeValueMemberS{Value: "TENANT#t1"}, item["PK"])
	require.Equal(t, &types.AttributeValueMemberS{Value: "amazon_inventory#SKU-A#2025-03-09"}, item["SK"])
	require.Equal(t, &types.AttributeValueMemberN{Value: "5"}, item["total_quantity"])
	require.Equal(t, &types.AttributeValueMemberS{Value: "amazon_inventory"}, item["Table"])
}

func TestDynamoWriter_RequiresTable(t *testing.T) {
	w := NewDynamoWriter(&fakePut{}, "")
	_, err := w.Upsert(context.Background(), "amazon_inventory", InventoryKey,
		InventoryRecord("t1", model.InventoryRow{Date: testDay, SKU: "A"}))
	require.Error(t, err)
}
