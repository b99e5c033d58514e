// Package export uploads the merged result of a completed access request as
// a JSON access package, either to an S3 bucket or to a presigned URL.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/engine"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
)

// Export kinds.
const (
	KindS3        = "s3"
	KindPresigned = "presigned"
)

// DefaultLinkExpiry is how long the download link of an S3 package stays
// valid.
const DefaultLinkExpiry = 7 * 24 * time.Hour

// Exporter uploads one access package and returns where it can be fetched.
type Exporter interface {
	Export(ctx context.Context, res *engine.MergedResult) (string, error)
}

// New builds the exporter of a config. httpClient may be nil.
func New(cfg *config.Export, httpClient *http.Client) (Exporter, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	switch cfg.Kind {
	case KindS3:
		if cfg.Bucket == "" || cfg.Region == "" {
			return nil, privacyerr.Validationf("export", "s3 export needs bucket and region")
		}
		opts := s3.Options{
			Region:     cfg.Region,
			HTTPClient: httpClient,
		}
		if cfg.AccessKeyID != "" {
			opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		}
		if cfg.Endpoint != "" {
			opts.BaseEndpoint = aws.String(cfg.Endpoint)
			opts.UsePathStyle = true
		}
		client := s3.New(opts)
		return &S3Exporter{
			client:  client,
			presign: s3.NewPresignClient(client),
			bucket:  cfg.Bucket,
			prefix:  cfg.Prefix,
			expiry:  DefaultLinkExpiry,
		}, nil
	case KindPresigned:
		if cfg.URL == "" {
			return nil, privacyerr.Validationf("export", "presigned export needs a url")
		}
		return &PresignedExporter{client: httpClient, url: cfg.URL}, nil
	default:
		return nil, privacyerr.Validationf("export", "unknown export kind %q", cfg.Kind)
	}
}

// S3Exporter writes packages to <prefix><request id>.json in a bucket.
type S3Exporter struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
	expiry  time.Duration
}

// Export uploads the package and returns a presigned download link.
func (e *S3Exporter) Export(ctx context.Context, res *engine.MergedResult) (string, error) {
	body, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	key := e.prefix + res.RequestID + ".json"
	logger := ctxlog.FromContext(ctx).With("bucket", e.bucket, "key", key)
	logger.Info("Uploading access package to S3", "size", len(body))

	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(e.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", fmt.Errorf("uploading access package: %w", err)
	}

	link, err := e.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(e.expiry))
	if err != nil {
		return "", fmt.Errorf("presigning access package: %w", err)
	}
	logger.Info("Successfully uploaded access package")
	return link.URL, nil
}

// PresignedExporter PUTs packages to a URL. A {request_id} placeholder in
// the URL is replaced by the request id.
type PresignedExporter struct {
	client *http.Client
	url    string
}

func (e *PresignedExporter) Export(ctx context.Context, res *engine.MergedResult) (string, error) {
	body, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	target := strings.ReplaceAll(e.url, "{request_id}", res.RequestID)
	logger := ctxlog.FromContext(ctx).With("action", "upload")

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = int64(len(body))

	logger.Info("Uploading access package", "size", len(body))
	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("upload failed with status: %s", resp.Status)
	}
	logger.Info("Successfully uploaded access package", "status", resp.Status)
	return stripQuery(target), nil
}

// stripQuery drops the signature from a presigned URL before it is logged
// or stored.
func stripQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}
