package cloudflare

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"konnectsphere_backend/pkg/config"
)

// Client stores pitch media and documents in an R2 bucket.
type Client struct {
	s3        *s3.Client
	bucket    string
	publicURL string
}

func NewClient(ctx context.Context, cfg config.R2Config) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID))
		o.UsePathStyle = true
	})

	return &Client{
		s3:        client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

// Upload writes body under key and returns its public URL.
func (c *Client) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("could not upload file to R2: %w", err)
	}

	return PublicURL(c.publicURL, key), nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("could not delete file from R2: %w", err)
	}
	return nil
}

// ObjectKey builds users/<owner>/pitches/<pitch>/<kind>/<unique><ext>.
func ObjectKey(owner, pitchSlug, kind, ext string) string {
	uniqueID := fmt.Sprintf("%d-%s", time.Now().UnixNano(), uuid.NewString())
	return path.Join(
		"users", slug.Make(owner),
		"pitches", slug.Make(pitchSlug),
		kind,
		uniqueID+strings.ToLower(ext),
	)
}

// AvatarKey builds users/<owner>/avatar/<unique><ext>.
func AvatarKey(owner, ext string) string {
	uniqueID := fmt.Sprintf("%d-%s", time.Now().UnixNano(), uuid.NewString())
	return path.Join("users", slug.Make(owner), "avatar", uniqueID+strings.ToLower(ext))
}

func PublicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}

// KeyFromURL reverses PublicURL.
func KeyFromURL(base, url string) string {
	return strings.TrimPrefix(url, strings.TrimRight(base, "/")+"/")
}
