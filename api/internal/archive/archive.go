package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"xray-bot/api/internal/config"
)

// Archive складывает оригиналы и результаты в S3-совместимое хранилище.
type Archive struct {
	client *s3.Client
	bucket string
	log    *zap.Logger
}

func New(ctx context.Context, cfg config.S3Config, log *zap.Logger) (*Archive, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Archive{client: client, bucket: cfg.BucketName, log: log}, nil
}

// Put uploads data under key.
func (a *Archive) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		a.log.Error("archive put failed", zap.String("key", key), zap.Error(err))
		return err
	}
	a.log.Info("archived", zap.String("key", key), zap.Int("size", len(data)))
	return nil
}

// OriginalKey: originals/2026/10/19/<request>-<name>
func OriginalKey(at time.Time, requestID, name string) string {
	return path.Join("originals", at.UTC().Format("2006/01/02"), requestID+"-"+cleanName(name))
}

// ResultKey: results/2026/10/19/<request>.png
func ResultKey(at time.Time, requestID, contentType string) string {
	ext := ".png"
	if strings.Contains(contentType, "jpeg") || strings.Contains(contentType, "jpg") {
		ext = ".jpg"
	}
	return path.Join("results", at.UTC().Format("2006/01/02"), requestID+ext)
}

func cleanName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
