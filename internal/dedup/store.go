// internal/dedup/store.go
package dedup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"printmon-agent/internal/model"

	json "github.com/goccy/go-json"
)

// Store 는 "이 identity 는 이미 전송 확정되었는가"에 O(1)로 답하고,
// 그 답을 재시작 이후에도 보존한다.
//
// 두 개의 집합을 엄격히 분리해서 관리한다:
//
//   - delivered: 전송이 확정되어 영속화 대상인 identity.
//   - pending:   버퍼에는 들어갔지만 아직 전송 확정되지 않은 identity.
//     다음 tick 의 재조회에서 같은 이벤트가 다시 버퍼에
//     들어오는 것을 막는 용도. 절대 영속화되지 않고,
//     절대 compaction 대상이 되지 않는다.
//
// Store 는 Agent 루프 단독 소유이며 잠금이 없다 (§ 단일 워커 모델).
// 여러 프로세스가 같은 상태 파일을 쓰는 구성은 지원하지 않는다.
type Store struct {
	path    string
	machine string

	delivered map[string]struct{}
	pending   map[string]struct{}

	// 로컬 호스트에서 전송 확정된 가장 큰 시퀀스 번호.
	// 확정에 의해서만 전진하며 절대 후퇴하지 않는다.
	highest int64
}

// compaction 임계값. 원본 에이전트와 동일한 상수를 유지한다.
const (
	persistCompactThreshold = 50000 // persist 시 전체 identity 수가 이걸 넘으면
	persistKeepPerMachine   = 10000 // 호스트별로 시퀀스 기준 최신 1만 건만 유지
	memoryCompactThreshold  = 10000 // in-memory 집합이 이걸 넘으면
	memoryKeepBehind        = 5000  // hwm-5000 이하의 로컬 identity 를 버린다
)

func NewStore(path, machine string) *Store {
	return &Store{
		path:      path,
		machine:   machine,
		delivered: make(map[string]struct{}),
		pending:   make(map[string]struct{}),
	}
}

// stateFile 은 영속 포맷이다. 키 이름은 구버전 에이전트의
// 상태 파일과 호환되어야 하므로 변경 불가.
type stateFile struct {
	ProcessedIDs         []any          `json:"processed_ids"`
	LastUpdate           string         `json:"last_update"`
	HighestIDThisMachine int64          `json:"highest_id_this_machine"`
	TotalProcessed       int            `json:"total_processed"`
	StatsByMachine       map[string]int `json:"stats_by_machine"`
}

// Load 는 상태 파일을 읽어 delivered 집합과 로컬 high-water mark 를
// 복원한다. 파일이 없으면 빈 상태로 시작한다 (첫 실행).
//
// 레거시 마이그레이션: 구버전 파일은 processed_ids 를 순수 정수로
// 저장했다 (machine prefix 없음). 그런 항목은 로컬 호스트 소속으로
// 해석해 "<machine>_<n>" 형태로 변환한다.
//
// high-water mark 는 파일의 highest_id_this_machine 를 그대로 믿지
// 않고, 로드된 identity 들 중 로컬 호스트 prefix 를 가진 것을 스캔해
// 다시 계산한다. 파일이 손으로 편집되었거나 부분 손상된 경우에도
// 집합과 hwm 이 어긋나지 않게 하기 위함이다.
func (s *Store) Load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read state file: %w", err)
	}

	var sf stateFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return fmt.Errorf("decode state file: %w", err)
	}

	for _, entry := range sf.ProcessedIDs {
		switch v := entry.(type) {
		case string:
			s.delivered[v] = struct{}{}
		case float64:
			// 레거시 정수 identity → 로컬 호스트 소속으로 변환.
			s.delivered[model.EventID(s.machine, int64(v))] = struct{}{}
		}
	}

	s.highest = 0
	for id := range s.delivered {
		machine, seq, ok := model.SplitEventID(id)
		if ok && machine == s.machine && seq > s.highest {
			s.highest = seq
		}
	}

	return nil
}

// Seen 은 identity 가 이미 전송 확정되었거나 현재 버퍼에
// pending 상태로 들어가 있는지를 반환한다.
func (s *Store) Seen(id string) bool {
	if _, ok := s.delivered[id]; ok {
		return true
	}
	_, ok := s.pending[id]
	return ok
}

// MarkPending 은 버퍼에 들어간 이벤트의 identity 를 기록한다.
// 다음 tick 의 look-back 재조회에서 같은 이벤트가 다시 버퍼링되는
// 것을 막는다. 전송 확정 전까지는 영속화되지 않는다.
func (s *Store) MarkPending(id string) {
	s.pending[id] = struct{}{}
}

// Confirm 은 전송 확정된 identity 들을 pending → delivered 로
// 승격시키고, 로컬 호스트의 identity 에 한해 high-water mark 를
// 전진시킨다. hwm 은 비감소 — 확정에 의해서만 움직인다.
func (s *Store) Confirm(ids []string) {
	for _, id := range ids {
		delete(s.pending, id)
		s.delivered[id] = struct{}{}

		machine, seq, ok := model.SplitEventID(id)
		if ok && machine == s.machine && seq > s.highest {
			s.highest = seq
		}
	}
}

// WriteOff 는 overflow 규칙으로 유실된 이벤트의 identity 를
// 처리 완료로 기록한다 (pending → delivered). 전송되지 않았으므로
// high-water mark 는 전진시키지 않는다.
//
// delivered 로 넣는 이유: pending 에 남기면 영원히 compaction 불가
// 상태로 누적되고, 버리면 look-back 재조회 때 다시 버퍼링되어
// 유실 선언이 무의미해진다. "명시적으로 버렸다"는 결정을
// 상태로도 남기는 것이다.
func (s *Store) WriteOff(ids []string) {
	for _, id := range ids {
		delete(s.pending, id)
		s.delivered[id] = struct{}{}
	}
}

// HighestSequence 는 로컬 호스트의 high-water mark 를 반환한다.
func (s *Store) HighestSequence() int64 { return s.highest }

// DeliveredCount 는 delivered 집합 크기를 반환한다 (로그/테스트용).
func (s *Store) DeliveredCount() int { return len(s.delivered) }

// PendingCount 는 pending 집합 크기를 반환한다 (로그/테스트용).
func (s *Store) PendingCount() int { return len(s.pending) }

// Persist 는 delivered 집합과 메타데이터를 상태 파일에 durable 하게
// 기록한다. 전송 확정 이후에만 호출된다. pending identity 는
// 정의상 미확정이므로 파일에 포함되지 않는다.
//
// 쓰기 전에 persist 시점 compaction 을 수행한다: 전체 identity 가
// persistCompactThreshold 를 넘으면 호스트별로 시퀀스 번호 기준
// 최신 persistKeepPerMachine 건만 남긴다 (삽입 순서가 아니라
// 시퀀스 정렬 기준).
//
// 임시 파일 + rename 으로 원자적으로 교체해, 쓰는 도중 크래시가
// 나도 기존 파일이 깨지지 않게 한다.
func (s *Store) Persist() error {
	s.compactPersisted()

	ids := make([]any, 0, len(s.delivered))
	stats := make(map[string]int)
	for id := range s.delivered {
		ids = append(ids, id)
		if machine, _, ok := model.SplitEventID(id); ok {
			stats[machine]++
		}
	}

	sf := stateFile{
		ProcessedIDs:         ids,
		LastUpdate:           time.Now().Format(time.RFC3339),
		HighestIDThisMachine: s.highest,
		TotalProcessed:       len(ids),
		StatsByMachine:       stats,
	}

	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state tmp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// compactPersisted 는 persist 직전의 크기 제한이다.
// pending 은 delivered 집합에 없으므로 건드릴 수 없다.
func (s *Store) compactPersisted() {
	if len(s.delivered) <= persistCompactThreshold {
		return
	}

	type seqID struct {
		seq int64
		id  string
	}
	byMachine := make(map[string][]seqID)
	malformed := make([]string, 0)

	for id := range s.delivered {
		machine, seq, ok := model.SplitEventID(id)
		if !ok {
			// 시퀀스를 파싱할 수 없는 identity 는 정렬 기준이 없으므로
			// 버리지 않고 그대로 유지한다.
			malformed = append(malformed, id)
			continue
		}
		byMachine[machine] = append(byMachine[machine], seqID{seq: seq, id: id})
	}

	kept := make(map[string]struct{}, persistKeepPerMachine)
	for _, entries := range byMachine {
		sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
		if len(entries) > persistKeepPerMachine {
			entries = entries[len(entries)-persistKeepPerMachine:]
		}
		for _, e := range entries {
			kept[e.id] = struct{}{}
		}
	}
	for _, id := range malformed {
		kept[id] = struct{}{}
	}

	s.delivered = kept
}

// CompactMemory 는 tick 마다 호출되는 in-memory 크기 제한이다.
// delivered 집합이 memoryCompactThreshold 를 넘으면, 로컬 호스트
// identity 중 시퀀스가 hwm-memoryKeepBehind 이하인 것을 버린다.
//
// 비교는 identity 문자열이 아니라 파싱된 시퀀스 번호로 한다.
// 다른 호스트의 identity 는 로컬 hwm 과 비교하는 것이 무의미하므로
// 여기서는 건드리지 않는다. persist 시점의 호스트별 compaction 이
// 그쪽의 상한이다. pending 은 별도 집합이라 구조적으로 안전하다.
//
// 반환값은 제거된 identity 수.
func (s *Store) CompactMemory() int {
	if len(s.delivered) <= memoryCompactThreshold {
		return 0
	}

	cutoff := s.highest - memoryKeepBehind
	removed := 0
	for id := range s.delivered {
		machine, seq, ok := model.SplitEventID(id)
		if ok && machine == s.machine && seq <= cutoff {
			delete(s.delivered, id)
			removed++
		}
	}
	return removed
}

// Path 는 상태 파일 경로를 반환한다 (로그용).
func (s *Store) Path() string { return filepath.Clean(s.path) }
