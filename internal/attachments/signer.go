// Package attachments turns stored attachment references into URLs a client
// can fetch. Uploads happen elsewhere.
package attachments

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"classchat/api/internal/store"
)

const scheme = "s3://"

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	URLTTL    time.Duration
}

// Signer presigns s3://bucket/key references. Any other URL is returned
// unchanged.
type Signer struct {
	client *minio.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewSigner(cfg Config, log *zap.Logger) (*Signer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		// A fixed region keeps presigning offline.
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Signer{client: client, ttl: ttl, log: log}, nil
}

// ParseRef splits an s3://bucket/key reference.
func ParseRef(ref string) (bucket, key string, ok bool) {
	if !strings.HasPrefix(ref, scheme) {
		return "", "", false
	}
	rest := strings.TrimPrefix(ref, scheme)
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// SignAttachments returns a copy with object references replaced by
// presigned URLs. A reference that fails to sign is left as stored.
func (s *Signer) SignAttachments(ctx context.Context, items []store.Attachment) []store.Attachment {
	out := make([]store.Attachment, len(items))
	copy(out, items)
	for i := range out {
		bucket, key, ok := ParseRef(out[i].URL)
		if !ok {
			continue
		}
		params := url.Values{}
		if out[i].Filename != "" {
			params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", out[i].Filename))
		}
		signed, err := s.client.PresignedGetObject(ctx, bucket, key, s.ttl, params)
		if err != nil {
			s.log.Warn("presign attachment failed", zap.String("bucket", bucket), zap.String("key", key), zap.Error(err))
			continue
		}
		out[i].URL = signed.String()
	}
	return out
}
