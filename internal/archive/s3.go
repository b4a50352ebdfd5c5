package archive

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/gzip"
)

type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Document is one decoded report payload as it came off the wire.
type Document struct {
	Tenant   string
	Domain   string
	SourceID string // report id, or the finance window for paginated pulls
	Format   string // json | tsv
	Fetched  time.Time
	Body     []byte
}

// S3Archive keeps a gzipped copy of every decoded document under
//
//	<prefix>/<domain>/tenant_id=<tenant>/dt=YYYY-MM-DD/<source>-<rand>.<format>.gz
type S3Archive struct {
	s3     PutObjectAPI
	bucket string
	prefix string
}

func NewS3Archive(client PutObjectAPI, bucket, prefix string) *S3Archive {
	if strings.TrimSpace(prefix) == "" {
		prefix = "raw/"
	}
	return &S3Archive{s3: client, bucket: bucket, prefix: prefix}
}

func (a *S3Archive) Key(doc Document) string {
	src := strings.NewReplacer("/", "_", " ", "_", ":", "").Replace(strings.TrimSpace(doc.SourceID))
	if src == "" {
		src = "doc"
	}
	format := doc.Format
	if format == "" {
		format = "json"
	}
	return fmt.Sprintf("%s%s/tenant_id=%s/dt=%s/%s-%s.%s.gz",
		ensureTrailingSlash(a.prefix),
		doc.Domain,
		doc.Tenant,
		doc.Fetched.UTC().Format("2006-01-02"),
		src,
		randHex(4),
		format,
	)
}

// Put stores doc and returns its object key.
func (a *S3Archive) Put(ctx context.Context, doc Document) (string, error) {
	if strings.TrimSpace(a.bucket) == "" {
		return "", fmt.Errorf("missing env RAW_ARCHIVE_BUCKET")
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(doc.Body); err != nil {
		return "", fmt.Errorf("gzip archive body: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("gzip archive body: %w", err)
	}

	key := a.Key(doc)
	_, err := a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String(contentType(doc.Format)),
		ContentEncoding: aws.String("gzip"),
		ACL:             s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return "", fmt.Errorf("s3 putobject failed: %w", err)
	}
	return key, nil
}

func contentType(format string) string {
	if format == "tsv" {
		return "text/tab-separated-values"
	}
	return "application/json"
}

func ensureTrailingSlash(s string) string {
	if s == "" || strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}

func randHex(nBytes int) string {
	b := make([]byte, nBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
