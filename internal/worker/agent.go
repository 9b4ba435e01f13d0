// internal/worker/agent.go
package worker

import (
	"context"
	"time"

	"printmon-agent/internal/archive"
	"printmon-agent/internal/config"
	"printmon-agent/internal/dedup"
	"printmon-agent/internal/eventlog"
	"printmon-agent/internal/extract"
	"printmon-agent/internal/metrics"
	"printmon-agent/internal/model"

	"github.com/rs/zerolog/log"
)

// Agent 는 전체 파이프라인을 고정 주기로 구동하는 단일 워커다.
//
//	Startup → (CatchUp) → Steady-Poll 반복 → Draining → Stopped
//
// 폴링, 추출, 전송, 영속화가 전부 이 루프 안에서 한 단계씩
// 순차 실행된다. 버퍼와 DedupStore 는 Agent 단독 소유라서
// 잠금이 필요 없다. 블로킹 지점은 이벤트 소스 조회와 수집기
// HTTP 호출뿐이며, 종료 신호는 tick 사이에서만 반영된다.
// 전송 재시도 도중에는 끊지 않는다.
type Agent struct {
	cfg       config.Config
	metrics   *metrics.Metrics
	store     *dedup.Store
	source    eventlog.Source
	sender    *Sender
	extractor *extract.Extractor
	archiver  *archive.Archiver // nil 이면 아카이브 비활성

	// 추출 완료 + 전송 미확정 이벤트 버퍼.
	// 전송 실패 시 비우지 않으므로 다음 tick 에 자동 재시도된다.
	buffer []model.CanonicalEvent
}

// 버퍼 overflow 규칙: 전송 실패가 계속되어 버퍼가
// bufferMaxEvents 를 넘으면 최신 bufferKeepEvents 건만 남긴다.
// 잘려나가는 쪽은 명시적인 데이터 유실이며 반드시 로그로 남는다.
const (
	bufferMaxEvents  = 1000
	bufferKeepEvents = 500
)

func New(
	cfg config.Config,
	m *metrics.Metrics,
	store *dedup.Store,
	source eventlog.Source,
	sender *Sender,
	archiver *archive.Archiver,
) *Agent {
	return &Agent{
		cfg:       cfg,
		metrics:   m,
		store:     store,
		source:    source,
		sender:    sender,
		extractor: extract.New(cfg.MachineName),
		archiver:  archiver,
	}
}

// Run 은 종료 신호(ctx 취소)까지 Agent 를 구동한다.
//
// 스케줄러는 명시적이다: tick() 1회 실행 후, 정상이면
// CheckInterval, tick 내부에서 오류가 났으면 RetryInterval 만큼
// 대기한다. tick 의 어떤 오류도 루프를 죽이지 않는다.
// 이벤트 1건, 배치 1개, 수집기 장애로 에이전트가 종료되는
// 일은 없어야 한다.
func (a *Agent) Run(ctx context.Context) error {
	a.startup(ctx)

	log.Info().Dur("interval", a.cfg.CheckInterval).Msg("watching for new print events")

	for {
		delay := a.cfg.CheckInterval
		if err := a.tick(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error().Err(err).Dur("backoff", a.cfg.RetryInterval).Msg("tick failed, backing off")
			delay = a.cfg.RetryInterval
		}

		select {
		case <-ctx.Done():
			a.drain()
			return nil
		case <-time.After(delay):
		}
	}

	a.drain()
	return nil
}

// startup 은 Startup 상태를 수행한다: 수집기 도달 확인(경고만),
// 로드된 상태 요약, 그리고 설정된 경우 catch-up 패스.
func (a *Agent) startup(ctx context.Context) {
	log.Info().
		Str("collector", a.cfg.CollectorURL).
		Str("state", a.store.Path()).
		Int("processed", a.store.DeliveredCount()).
		Int64("highest_sequence", a.store.HighestSequence()).
		Msg("agent starting")

	// 수집기 불통은 치명적이지 않다. 이벤트는 버퍼에 쌓였다가
	// 수집기가 살아나면 전송된다.
	if err := a.sender.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("collector unreachable, events will buffer until it recovers")
	}

	if a.cfg.ProcessAllOnStart {
		if err := a.catchUp(ctx); err != nil {
			// 불완전한 패스는 아무것도 확정하지 않았으므로
			// 다음 실행에서 통째로 재시도된다.
			log.Warn().Err(err).Msg("catch-up incomplete, will retry on next run")
		}
	} else {
		log.Info().Msg("catch-up on start disabled")
	}
}

// drain 은 Draining 상태다: 버퍼의 마지막 전송을 1회 시도하고,
// 결과와 무관하게 상태를 영속화한 뒤 멈춘다.
// 종료 신호 이후이므로 취소된 ctx 대신 새 컨텍스트를 쓴다.
func (a *Agent) drain() {
	log.Info().Int("buffered", len(a.buffer)).Msg("draining before shutdown")

	if len(a.buffer) > 0 {
		ctx := context.Background()
		if err := a.sender.DeliverAll(ctx, a.buffer, a.cfg.BatchSize); err != nil {
			log.Warn().Err(err).Int("events", len(a.buffer)).
				Msg("final delivery failed, events remain unconfirmed")
		} else {
			a.confirmBuffer(ctx)
		}
	}

	if err := a.store.Persist(); err != nil {
		log.Error().Err(err).Msg("final state persist failed")
	}

	log.Info().Msg("agent stopped")
	log.Info().Msg("metrics snapshot:\n" + a.metrics.String())
}
