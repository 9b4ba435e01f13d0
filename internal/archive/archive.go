// internal/archive/archive.go
package archive

import (
	"context"
	"sync/atomic"

	"printmon-agent/internal/config"
	"printmon-agent/internal/metrics"
	"printmon-agent/internal/model"

	"github.com/rs/zerolog/log"
)

// Archiver 는 전송 파이프라인의 부가 기능이다: 수집기로 보낸
// 배치(그리고 overflow 로 유실 선언된 이벤트)를 gzip+JSONL 로
// S3 에 장기 보관한다.
//
// 아카이브는 best-effort 다. 업로드 실패는 로컬 spool 로
// 우회되고, spool 마저 포기하더라도 전송 확정/상태 영속화에는
// 절대 영향을 주지 않는다.
type Archiver struct {
	cfg      config.Config
	metrics  *metrics.Metrics
	uploader *Uploader
	spool    *Spool
}

// New 는 S3 클라이언트와 로컬 spool 을 초기화한다.
// ArchiveBucket 이 설정된 경우에만 호출된다.
func New(ctx context.Context, cfg config.Config, m *metrics.Metrics) (*Archiver, error) {
	uploader, err := NewUploader(ctx, cfg, m)
	if err != nil {
		return nil, err
	}
	return &Archiver{
		cfg:      cfg,
		metrics:  m,
		uploader: uploader,
		spool:    NewSpool(cfg, m, uploader),
	}, nil
}

// ArchiveDelivered 는 수집기 전송이 확정된 배치를 보관한다.
func (a *Archiver) ArchiveDelivered(ctx context.Context, events []model.CanonicalEvent) {
	a.archive(ctx, a.cfg.ArchivePrefix, events)
}

// ArchiveDropped 는 버퍼 overflow 규칙으로 유실 선언된 이벤트를
// 보관한다. 수집기에는 끝내 도달하지 못한 데이터이므로 별도
// prefix 로 분리해, 유실 감사(audit)가 가능하게 한다.
func (a *Archiver) ArchiveDropped(ctx context.Context, events []model.CanonicalEvent) {
	a.archive(ctx, a.cfg.DroppedPrefix, events)
}

func (a *Archiver) archive(ctx context.Context, prefix string, events []model.CanonicalEvent) {
	if len(events) == 0 {
		return
	}

	data, err := EncodeBatchJSONLGZ(events)
	if err != nil {
		// 인코딩 실패는 사실상 코드 버그. 기록만 남긴다.
		log.Error().Err(err).Int("events", len(events)).Msg("archive encode failed")
		return
	}

	name := NewFilename(machineOf(events))
	if err := a.uploader.UploadBytes(ctx, BuildKey(prefix, name), data); err != nil {
		log.Warn().Err(err).Str("file", name).Msg("archive upload failed, spooling locally")
		if serr := a.spool.Save(name, data, spoolMeta{NumEvents: len(events), Prefix: prefix}); serr != nil {
			log.Error().Err(serr).Str("file", name).Msg("spool save failed")
		}
		return
	}
	atomic.AddInt64(&a.metrics.ArchiveBatchesStoredTotal, 1)
}

// DrainSpoolOne 은 spool 의 가장 오래된 파일 1개를 재업로드한다.
// Agent 가 tick 마다 호출한다.
func (a *Archiver) DrainSpoolOne(ctx context.Context) {
	a.spool.ProcessOneCtx(ctx)
}

func machineOf(events []model.CanonicalEvent) string {
	if len(events) > 0 && events[0].Machine != "" {
		return events[0].Machine
	}
	return "unknown"
}
