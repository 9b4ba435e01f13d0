// internal/worker/sender.go
package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"printmon-agent/internal/config"
	"printmon-agent/internal/metrics"
	"printmon-agent/internal/model"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Sender 는 이벤트 배치를 수집기로 HTTP POST 한다.
//
// 성공 판정은 오직 HTTP 200. 그 외 상태 코드와 네트워크 오류는
// 모두 실패이며, 배치 1개당 독립적인 재시도 예산(maxRetries,
// 시도 사이 고정 딜레이, 마지막 시도 후 딜레이 없음)을 가진다.
// 배치를 넘나드는 재시도는 없다. 실패한 배치는 호출자(Agent)가
// 버퍼 유지로 처리한다.
//
// 전송 자체는 at-least-once 다. 재시도나 catch-up 재실행으로
// 같은 이벤트가 두 번 도착할 수 있으므로, 중복 행 허용 여부는
// 수집기 쪽 책임이다.
type Sender struct {
	url        string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	batchPause time.Duration
	metrics    *metrics.Metrics
}

func NewSender(cfg config.Config, m *metrics.Metrics) *Sender {
	return &Sender{
		url:        cfg.CollectorURL,
		client:     &http.Client{Timeout: cfg.RequestTimeout},
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.SendRetryDelay,
		batchPause: cfg.BatchPause,
		metrics:    m,
	}
}

// Deliver 는 배치 1개를 단일 요청으로 전송한다.
// 재시도 예산을 모두 소진하면 마지막 오류를 반환한다.
func (s *Sender) Deliver(ctx context.Context, events []model.CanonicalEvent) error {
	if len(events) == 0 {
		return nil
	}

	body, err := json.Marshal(model.EventBatch{Events: events})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.post(ctx, body); err == nil {
			atomic.AddInt64(&s.metrics.BatchesSentTotal, 1)
			return nil
		} else {
			lastErr = err
			atomic.AddInt64(&s.metrics.SendAttemptErrorsTotal, 1)
			log.Warn().Err(err).Int("attempt", attempt).Int("events", len(events)).
				Msg("batch delivery attempt failed")
		}

		// 마지막 시도 뒤에는 기다리지 않는다.
		if attempt < s.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryDelay):
			}
		}
	}
	return lastErr
}

// DeliverAll 은 이벤트 목록 전체를 배치로 쪼개 순서대로 전송한다.
//
// 한 배치가 실패해도 남은 배치는 계속 시도한다 (부분 성공 파악용).
// 다만 결과는 all-or-nothing 으로 보고한다: 하나라도 실패하면
// 에러. 호출자는 어느 identity 도 확정하면 안 된다.
// 수집기 과부하 방지를 위해 연속 배치 사이에 batchPause 를 둔다.
func (s *Sender) DeliverAll(ctx context.Context, events []model.CanonicalEvent, batchSize int) error {
	batches := Chunk(events, batchSize)
	if len(batches) == 0 {
		return nil
	}

	failed := 0
	for i, batch := range batches {
		if err := s.Deliver(ctx, batch); err != nil {
			failed++
			log.Warn().Err(err).Int("batch", i+1).Int("batches", len(batches)).
				Msg("batch failed, continuing with remaining batches")
		}

		if i < len(batches)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.batchPause):
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("delivery incomplete: %d/%d batches failed", failed, len(batches))
	}
	return nil
}

// post 는 실제 HTTP 호출 1회를 수행한다. 200 만 성공이다.
func (s *Sender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("collector returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	// 성공 응답 본문은 사람이 읽는 메시지 하나. debug 로만 남긴다.
	var ack struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err == nil && ack.Message != "" {
		log.Debug().Str("message", ack.Message).Msg("collector ack")
	}
	return nil
}

// Ping 은 수집기 루트 경로로 가벼운 GET 을 보내 도달 가능성만
// 확인한다. 시작 진단용. 실패해도 치명적이지 않다 (이벤트는
// 수집기가 살아날 때까지 버퍼에 쌓인다).
func (s *Sender) Ping(ctx context.Context) error {
	u, err := url.Parse(s.url)
	if err != nil {
		return fmt.Errorf("parse collector url: %w", err)
	}
	u.Path = "/"
	u.RawQuery = ""

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("collector unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("collector health check returned %d", resp.StatusCode)
	}
	return nil
}
