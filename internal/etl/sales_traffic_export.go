package etl

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"sellersync/internal/model"
)

// SalesTrafficParquetRow matches the Glue table columns. dt and tenant_id are partitions.
type SalesTrafficParquetRow struct {
	ChildASIN             string  `parquet:"name=child_asin, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	ParentASIN            string  `parquet:"name=parent_asin, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	SKU                   string  `parquet:"name=sku, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	MetricDate            string  `parquet:"name=metric_date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"` // YYYY-MM-DD
	UnitsOrdered          int64   `parquet:"name=units_ordered, type=INT64"`
	UnitsOrderedB2B       int64   `parquet:"name=units_ordered_b2b, type=INT64"`
	TotalOrderItems       int64   `parquet:"name=total_order_items, type=INT64"`
	OrderedProductSales   float64 `parquet:"name=ordered_product_sales, type=DOUBLE"`
	CurrencyCode          string  `parquet:"name=currency_code, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Sessions              int64   `parquet:"name=sessions, type=INT64"`
	PageViews             int64   `parquet:"name=page_views, type=INT64"`
	BuyBoxPercentage      float64 `parquet:"name=buy_box_percentage, type=DOUBLE"`
	UnitSessionPercentage float64 `parquet:"name=unit_session_percentage, type=DOUBLE"`
}

type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Exporter mirrors synced sales/traffic rows into the analytics bucket as Parquet, one
// object per (tenant, day):
//
//	<prefix>/dt=YYYY-MM-DD/tenant_id=<tenant>/part-<rand>.parquet
type Exporter struct {
	s3     PutObjectAPI
	bucket string
	prefix string
	tmpDir string
}

func NewExporter(client PutObjectAPI, bucket, prefix string) *Exporter {
	if strings.TrimSpace(prefix) == "" {
		prefix = "sales_traffic/"
	}
	return &Exporter{s3: client, bucket: bucket, prefix: prefix, tmpDir: os.TempDir()}
}

// ExportSalesTraffic writes one object per day in rows and returns their keys. Each
// object holds the full day for the tenant.
func (e *Exporter) ExportSalesTraffic(ctx context.Context, tenant string, rows []model.SalesTrafficRow) ([]string, error) {
	if strings.TrimSpace(e.bucket) == "" {
		return nil, fmt.Errorf("missing env ANALYTICS_BUCKET")
	}
	if len(rows) == 0 {
		return nil, nil
	}

	byDay := map[string][]SalesTrafficParquetRow{}
	for _, r := range rows {
		dt := model.DateKey(r.Date)
		byDay[dt] = append(byDay[dt], ToParquetRow(r))
	}
	days := make([]string, 0, len(byDay))
	for dt := range byDay {
		days = append(days, dt)
	}
	sort.Strings(days)

	keys := make([]string, 0, len(days))
	for _, dt := range days {
		key := PartitionKey(e.prefix, dt, tenant)
		if err := e.writeParquetToS3(ctx, key, byDay[dt]); err != nil {
			return keys, fmt.Errorf("write parquet for tenant=%s dt=%s: %w", tenant, dt, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// PartitionKey is the single object per (dt, tenant). A rerun for the same day overwrites
// it, so the Athena table never holds two copies of a day.
func PartitionKey(prefix, dt, tenant string) string {
	return fmt.Sprintf("%sdt=%s/tenant_id=%s/part-0000.parquet", ensureTrailingSlash(prefix), dt, tenant)
}

func ToParquetRow(r model.SalesTrafficRow) SalesTrafficParquetRow {
	sales, _ := strconv.ParseFloat(r.OrderedProductSales.Amount, 64)
	return SalesTrafficParquetRow{
		ChildASIN:             r.ChildASIN,
		ParentASIN:            r.ParentASIN,
		SKU:                   r.SKU,
		MetricDate:            model.DateKey(r.Date),
		UnitsOrdered:          r.UnitsOrdered,
		UnitsOrderedB2B:       r.UnitsOrderedB2B,
		TotalOrderItems:       r.TotalOrderItems,
		OrderedProductSales:   sales,
		CurrencyCode:          r.OrderedProductSales.CurrencyCode,
		Sessions:              r.Sessions,
		PageViews:             r.PageViews,
		BuyBoxPercentage:      r.BuyBoxPercentage,
		UnitSessionPercentage: r.UnitSessionPercentage,
	}
}

func (e *Exporter) writeParquetToS3(ctx context.Context, key string, rows []SalesTrafficParquetRow) error {
	localPath := filepath.Join(e.tmpDir, "sales_traffic_"+randHex(8)+".parquet")
	defer func() { _ = os.Remove(localPath) }()

	if err := writeParquetFile(localPath, rows); err != nil {
		return err
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read parquet tmp: %w", err)
	}

	_, err = e.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		ACL:         s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("s3 putobject failed: %w", err)
	}
	return nil
}

func writeParquetFile(path string, rows []SalesTrafficParquetRow) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("parquet file writer: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(SalesTrafficParquetRow), 1)
	if err != nil {
		_ = fw.Close()
		return fmt.Errorf("parquet writer: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.PageSize = 8 * 1024
	pw.CompressionType = 0 // no snappy

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return fmt.Errorf("parquet write row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return fmt.Errorf("parquet write stop: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("parquet close: %w", err)
	}
	return nil
}

func ensureTrailingSlash(s string) string {
	if s == "" {
		return ""
	}
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}

func randHex(nBytes int) string {
	b := make([]byte, nBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
