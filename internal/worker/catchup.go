// internal/worker/catchup.go
package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"printmon-agent/internal/model"

	"github.com/rs/zerolog/log"
)

// catchUp 은 시작 시 1회 수행되는 전체 이력 정산 패스다.
//
// 전체 이력을 조회해 미처리 이벤트만 추출·전송한다. 결과는
// 엄격한 all-or-nothing 이다: 구성 배치가 하나라도 실패하면
// 이 패스의 어떤 identity 도 delivered 로 기록하지 않고
// 불완전 패스로 보고한다. 다음 프로세스 실행에서 통째로
// 재시도되며, 이미 전송에 성공했던 배치는 그때 중복 도착한다.
// 수집기의 중복 허용이 전제다.
//
// steady-poll 과 달리 로컬 호스트 필터를 걸지 않는다. 다른
// 호스트 이름으로 기록된 과거 이벤트도 이 호스트의 로그에
// 남아 있으면 정산 대상이다 (hwm 은 로컬 것만 전진).
func (a *Agent) catchUp(ctx context.Context) error {
	log.Info().Msg("catch-up: scanning full event history")

	raws, err := a.source.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("fetch full history: %w", err)
	}
	atomic.AddInt64(&a.metrics.EventsFetchedTotal, int64(len(raws)))

	var (
		events []model.CanonicalEvent
		ids    []string
		known  int
	)
	for _, raw := range raws {
		machine := raw.MachineName
		if machine == "" {
			machine = a.cfg.MachineName
		}
		id := model.EventID(machine, raw.RecordID)
		if a.store.Seen(id) {
			known++
			continue
		}

		ev, pagesFound := a.extractor.Extract(raw)
		if !pagesFound {
			atomic.AddInt64(&a.metrics.ExtractPageDefaultTotal, 1)
		}
		events = append(events, ev)
		ids = append(ids, id)
	}

	log.Info().Int("total", len(raws)).Int("known", known).Int("new", len(events)).
		Msg("catch-up: history filtered")

	if len(events) == 0 {
		return nil
	}

	if err := a.sender.DeliverAll(ctx, events, a.cfg.BatchSize); err != nil {
		// 어떤 배치가 성공했더라도 여기서는 아무것도 확정하지 않는다.
		return fmt.Errorf("catch-up pass incomplete: %w", err)
	}

	a.store.Confirm(ids)
	atomic.AddInt64(&a.metrics.EventsDeliveredTotal, int64(len(events)))

	if err := a.store.Persist(); err != nil {
		atomic.AddInt64(&a.metrics.StatePersistErrorsTotal, 1)
		log.Error().Err(err).Msg("state persist failed after catch-up")
	}

	if a.archiver != nil {
		a.archiver.ArchiveDelivered(ctx, events)
	}

	log.Info().Int("events", len(events)).Int64("highest_sequence", a.store.HighestSequence()).
		Msg("catch-up complete")
	return nil
}
