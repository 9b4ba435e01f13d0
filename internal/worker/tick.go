// internal/worker/tick.go
package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"printmon-agent/internal/model"

	"github.com/rs/zerolog/log"
)

// tick 은 Steady-Poll 1회다.
//
//  1. look-back 구간의 raw 이벤트 조회
//  2. 3중 필터(미처리 + 로컬 호스트 + hwm 초과) 통과분만 추출 후
//     버퍼에 추가, identity 는 즉시 pending 기록
//  3. 버퍼 "전체"(이번에 추가된 것만이 아니라) 전송 시도
//  4. 성공: 확정 + 영속화 + 버퍼 클리어 / 실패: 버퍼 유지 + overflow 규칙
//  5. in-memory compaction
//
// 반환 오류는 루프를 죽이지 않고 RetryInterval backoff 로 이어진다.
func (a *Agent) tick(ctx context.Context) error {
	raws, err := a.source.FetchSince(ctx, a.cfg.LookBack)
	if err != nil {
		return fmt.Errorf("fetch recent events: %w", err)
	}
	atomic.AddInt64(&a.metrics.EventsFetchedTotal, int64(len(raws)))

	a.bufferNew(raws)

	if len(a.buffer) > 0 {
		log.Info().Int("events", len(a.buffer)).Msg("delivering buffered events")

		if err := a.sender.DeliverAll(ctx, a.buffer, a.cfg.BatchSize); err != nil {
			log.Warn().Err(err).Int("events", len(a.buffer)).
				Msg("delivery failed, keeping buffer for next tick")
			a.enforceBufferLimit(ctx)
		} else {
			a.confirmBuffer(ctx)
		}
	}

	if removed := a.store.CompactMemory(); removed > 0 {
		atomic.AddInt64(&a.metrics.CompactionsTotal, 1)
		log.Info().Int("removed", removed).Int("remaining", a.store.DeliveredCount()).
			Msg("compacted in-memory identity set")
	}

	if a.archiver != nil {
		a.archiver.DrainSpoolOne(ctx)
	}

	return nil
}

// bufferNew 는 raw 이벤트 중 처음 보는 로컬 이벤트만 골라
// 추출해 버퍼에 넣는다.
//
// 필터 3조건:
//   - identity 미처리 (delivered 도 pending 도 아님). pending 검사가
//     look-back 구간이 겹치는 다음 tick 에서의 중복 버퍼링을 막는다
//   - 로컬 호스트의 이벤트
//   - 시퀀스가 hwm 보다 큼
func (a *Agent) bufferNew(raws []model.RawEvent) {
	fresh := 0
	for _, raw := range raws {
		machine := raw.MachineName
		if machine == "" {
			machine = a.cfg.MachineName
		}
		id := model.EventID(machine, raw.RecordID)

		if a.store.Seen(id) ||
			machine != a.cfg.MachineName ||
			raw.RecordID <= a.store.HighestSequence() {
			continue
		}

		ev, pagesFound := a.extractor.Extract(raw)
		if !pagesFound {
			atomic.AddInt64(&a.metrics.ExtractPageDefaultTotal, 1)
			log.Warn().Int64("sequence", raw.RecordID).
				Msg("no page count pattern matched, defaulting to 1")
		}

		a.store.MarkPending(id)
		a.buffer = append(a.buffer, ev)
		fresh++
	}

	if fresh > 0 {
		atomic.AddInt64(&a.metrics.EventsBufferedTotal, int64(fresh))
		log.Info().Int("new", fresh).Int("buffered", len(a.buffer)).Msg("found new print events")
	}
}

// confirmBuffer 는 버퍼 전체의 전송 확정을 처리한다:
// pending → delivered 승격, hwm 전진, 영속화, 아카이브, 버퍼 클리어.
//
// 영속화 실패는 여기서 흡수한다. 메모리 상태가 프로세스 수명
// 동안의 기준이고, 재시작 시 중복 전송 위험은 감수한다
// (수집기는 중복 행을 허용해야 한다).
func (a *Agent) confirmBuffer(ctx context.Context) {
	ids := make([]string, len(a.buffer))
	for i := range a.buffer {
		ids[i] = a.buffer[i].ID()
	}
	a.store.Confirm(ids)
	atomic.AddInt64(&a.metrics.EventsDeliveredTotal, int64(len(a.buffer)))

	if err := a.store.Persist(); err != nil {
		atomic.AddInt64(&a.metrics.StatePersistErrorsTotal, 1)
		log.Error().Err(err).Msg("state persist failed, in-memory state remains authoritative")
	}

	if a.archiver != nil {
		a.archiver.ArchiveDelivered(ctx, a.buffer)
	}

	log.Info().Int("events", len(a.buffer)).Int64("highest_sequence", a.store.HighestSequence()).
		Msg("buffer delivered and confirmed")
	a.buffer = a.buffer[:0]
}

// enforceBufferLimit 은 overflow 규칙이다: 버퍼가 bufferMaxEvents 를
// 넘으면 최신 bufferKeepEvents 건만 남기고 오래된 쪽을 버린다.
//
// 잘려나간 이벤트는 데이터 유실이다. identity 는 write-off 로
// 기록해 재버퍼링을 막고(hwm 은 전진하지 않는다), 아카이브가
// 켜져 있으면 유실분을 dropped prefix 로 남겨 감사가 가능하게 한다.
func (a *Agent) enforceBufferLimit(ctx context.Context) {
	if len(a.buffer) <= bufferMaxEvents {
		return
	}

	cut := len(a.buffer) - bufferKeepEvents
	dropped := a.buffer[:cut]

	ids := make([]string, len(dropped))
	for i := range dropped {
		ids[i] = dropped[i].ID()
	}
	a.store.WriteOff(ids)
	atomic.AddInt64(&a.metrics.BufferDroppedTotal, int64(len(dropped)))

	log.Error().Int("dropped", len(dropped)).Int("kept", bufferKeepEvents).
		Msg("buffer overflow, oldest events dropped (data loss)")

	if a.archiver != nil {
		a.archiver.ArchiveDropped(ctx, dropped)
	}

	// 남기는 쪽은 새 slice 로 복사한다. dropped 하위 구간과
	// backing array 를 공유한 채 append 하면 덮어쓴다.
	kept := make([]model.CanonicalEvent, bufferKeepEvents)
	copy(kept, a.buffer[cut:])
	a.buffer = kept
}
