// internal/archive/s3.go
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"printmon-agent/internal/config"
	"printmon-agent/internal/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader 는 아카이브 오브젝트의 S3 업로드를 담당한다.
//
// 모든 업로드는 컨텍스트 기반(시도당 timeout + cancel-safe)이며
// 애플리케이션 레벨 재시도(backoff)를 포함한다. SDK 자체 retry 는
// 0으로 고정한다. 재시도 횟수가 두 군데서 곱해지면 지연이
// 예측 불가능해진다.
type Uploader struct {
	cfg     config.Config
	metrics *metrics.Metrics
	client  *s3.Client
}

func NewUploader(ctx context.Context, cfg config.Config, m *metrics.Metrics) (*Uploader, error) {
	awsCfg, err := awsCfgLib.LoadDefaultConfig(ctx, awsCfgLib.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
	})

	return &Uploader{cfg: cfg, metrics: m, client: client}, nil
}

// UploadBytes 는 메모리의 gzip+JSONL 바이트를 업로드한다.
// 재시도마다 reader 를 새로 만들어야 하므로 bytes.NewReader 사용.
func (u *Uploader) UploadBytes(ctx context.Context, key string, body []byte) error {
	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 1; attempt <= u.cfg.S3AppRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := u.putObject(ctx, key, bytes.NewReader(body), int64(len(body))); err == nil {
			return nil
		} else {
			lastErr = err
			atomic.AddInt64(&u.metrics.ArchivePutErrorsTotal, 1)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
		}
	}
	return lastErr
}

// UploadFile 은 spool 에 저장된 파일을 그대로 업로드한다.
// 재시도 시 Seek(0)으로 rewind 한다.
func (u *Uploader) UploadFile(ctx context.Context, key string, f io.ReadSeeker, size int64) error {
	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 1; attempt <= u.cfg.S3AppRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := u.putObject(ctx, key, f, size); err == nil {
			return nil
		} else {
			lastErr = err
			atomic.AddInt64(&u.metrics.ArchivePutErrorsTotal, 1)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
		}

		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind spool file: %w", err)
		}
	}
	return lastErr
}

// putObject 는 PutObject 1회 호출만 담당한다. 시도당 timeout 적용.
func (u *Uploader) putObject(ctx context.Context, key string, body io.Reader, size int64) error {
	ctx2, cancel := context.WithTimeout(ctx, u.cfg.S3Timeout)
	defer cancel()

	_, err := u.client.PutObject(ctx2, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.ArchiveBucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	return err
}
