// internal/metrics/metrics.go
package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics 는 에이전트 상태를 나타내는 카운터 모음이다.
// 별도의 metrics 서버는 두지 않는다. Agent 가 주기적으로, 그리고
// 종료 시점에 String() 덤프를 로그로 남긴다. 장애 상황에서
// "어디까지 갔고 어디서 막혔는가"를 복기하는 용도.
type Metrics struct {
	// ======================
	// 소스/추출 지표
	// ======================

	// EventsFetchedTotal
	// - 이벤트 소스 조회(FetchAll/FetchSince)가 돌려준 raw 이벤트 수 누적.
	// - dedup 필터 이전 값이므로 중복 포함. 소스가 살아있는지 보는 지표.
	EventsFetchedTotal int64

	// EventsBufferedTotal
	// - 3중 필터(미처리 + 로컬 호스트 + high-water mark 초과)를 통과해
	//   실제 전송 버퍼에 들어간 이벤트 수 누적.
	EventsBufferedTotal int64

	// ExtractPageDefaultTotal
	// - 페이지 수 패턴이 하나도 맞지 않거나 범위를 벗어나서
	//   기본값 1로 degrade 된 이벤트 수.
	// - 이 값이 갑자기 늘면 새로운 OS 언어/메시지 포맷이 나타났다는 신호.
	ExtractPageDefaultTotal int64

	// ======================
	// 전송 지표
	// ======================

	// BatchesSentTotal
	// - 수집기로 전송에 성공한 배치 수.
	BatchesSentTotal int64

	// EventsDeliveredTotal
	// - 전송 확정된 이벤트 수 (배치 수가 아니라 이벤트 단위).
	EventsDeliveredTotal int64

	// SendAttemptErrorsTotal
	// - 실패한 전송 "시도(attempt)" 횟수. retry 포함이므로
	//   배치 1개가 3회 모두 실패하면 +3.
	SendAttemptErrorsTotal int64

	// ======================
	// 버퍼/상태 지표
	// ======================

	// BufferDroppedTotal
	// - 버퍼 overflow 규칙(1000건 초과 시 최신 500건만 유지)으로
	//   버려진 이벤트 수. 0이 아니라는 것 자체가 데이터 유실이
	//   시작되었다는 강한 신호다.
	BufferDroppedTotal int64

	// StatePersistErrorsTotal
	// - 상태 파일 저장 실패 횟수. 실패해도 메모리 상태가 기준으로
	//   유지되지만, 재시작 시 중복 전송 위험이 커진다.
	StatePersistErrorsTotal int64

	// CompactionsTotal
	// - in-memory 또는 persist 시점 compaction 이 실제로 수행된 횟수.
	CompactionsTotal int64

	// ======================
	// 아카이브/spool 지표
	// ======================

	// ArchivePutErrorsTotal
	// - S3 PutObject 호출 실패 시도 횟수 (retry 포함).
	ArchivePutErrorsTotal int64

	// ArchiveBatchesStoredTotal
	// - S3 에 저장 완료된 배치 수 (spool 경유 재업로드 포함).
	ArchiveBatchesStoredTotal int64

	// SpoolFilesCurrent
	// - 현재 로컬 spool 디렉토리의 파일 수 (gauge).
	SpoolFilesCurrent int64

	// SpoolSizeBytes
	// - 현재 로컬 spool 디렉토리의 총 용량 (gauge).
	SpoolSizeBytes int64

	// SpoolFilesExpiredTotal
	// - TTL 또는 용량 제한으로 삭제된 spool 파일 수.
	SpoolFilesExpiredTotal int64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(512)

	fmt.Fprintf(&sb, "events_fetched_total=%d\n", atomic.LoadInt64(&m.EventsFetchedTotal))
	fmt.Fprintf(&sb, "events_buffered_total=%d\n", atomic.LoadInt64(&m.EventsBufferedTotal))
	fmt.Fprintf(&sb, "extract_page_default_total=%d\n", atomic.LoadInt64(&m.ExtractPageDefaultTotal))

	fmt.Fprintf(&sb, "batches_sent_total=%d\n", atomic.LoadInt64(&m.BatchesSentTotal))
	fmt.Fprintf(&sb, "events_delivered_total=%d\n", atomic.LoadInt64(&m.EventsDeliveredTotal))
	fmt.Fprintf(&sb, "send_attempt_errors_total=%d\n", atomic.LoadInt64(&m.SendAttemptErrorsTotal))

	fmt.Fprintf(&sb, "buffer_dropped_total=%d\n", atomic.LoadInt64(&m.BufferDroppedTotal))
	fmt.Fprintf(&sb, "state_persist_errors_total=%d\n", atomic.LoadInt64(&m.StatePersistErrorsTotal))
	fmt.Fprintf(&sb, "compactions_total=%d\n", atomic.LoadInt64(&m.CompactionsTotal))

	fmt.Fprintf(&sb, "archive_put_errors_total=%d\n", atomic.LoadInt64(&m.ArchivePutErrorsTotal))
	fmt.Fprintf(&sb, "archive_batches_stored_total=%d\n", atomic.LoadInt64(&m.ArchiveBatchesStoredTotal))
	fmt.Fprintf(&sb, "spool_files_current=%d\n", atomic.LoadInt64(&m.SpoolFilesCurrent))
	fmt.Fprintf(&sb, "spool_size_bytes=%d\n", atomic.LoadInt64(&m.SpoolSizeBytes))
	fmt.Fprintf(&sb, "spool_files_expired_total=%d\n", atomic.LoadInt64(&m.SpoolFilesExpiredTotal))

	return sb.String()
}
