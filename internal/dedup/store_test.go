package dedup

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"printmon-agent/internal/model"

	json "github.com/goccy/go-json"
)

func tempStore(t *testing.T, machine string) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "processed_events.json"), machine)
}

func TestLoad_MissingFileStartsEmpty(t *testing.T) {
	s := tempStore(t, "PC1")
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.DeliveredCount() != 0 || s.HighestSequence() != 0 {
		t.Fatalf("expected empty store, got %d ids hwm=%d", s.DeliveredCount(), s.HighestSequence())
	}
}

func TestLoad_LegacyIntegerIDsMigrate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "processed_events.json")

	// 구버전 포맷: machine prefix 없는 순수 정수 + 신형 문자열 혼재
	legacy := `{"processed_ids": [101, 102, "PC2_500"], "last_update": "old"}`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(path, "PC1")
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, id := range []string{"PC1_101", "PC1_102", "PC2_500"} {
		if !s.Seen(id) {
			t.Errorf("expected %s to be loaded", id)
		}
	}
	if s.HighestSequence() != 102 {
		t.Errorf("hwm = %d, want 102 (recomputed from local ids only)", s.HighestSequence())
	}
}

func TestConfirm_AdvancesHWMForLocalOnly(t *testing.T) {
	s := tempStore(t, "PC1")

	s.MarkPending("PC1_10")
	s.MarkPending("PC2_999")
	s.Confirm([]string{"PC1_10", "PC2_999"})

	if s.HighestSequence() != 10 {
		t.Errorf("hwm = %d, want 10 (foreign ids must not advance it)", s.HighestSequence())
	}
	if s.PendingCount() != 0 {
		t.Errorf("pending not cleared: %d", s.PendingCount())
	}
	if !s.Seen("PC1_10") || !s.Seen("PC2_999") {
		t.Error("confirmed ids must be seen")
	}
}

func TestHWM_NonDecreasing(t *testing.T) {
	s := tempStore(t, "PC1")
	s.Confirm([]string{"PC1_50"})
	s.Confirm([]string{"PC1_20"}) // 늦게 도착한 과거 이벤트
	if s.HighestSequence() != 50 {
		t.Errorf("hwm = %d, want 50", s.HighestSequence())
	}
}

func TestWriteOff_RecordsWithoutAdvancingHWM(t *testing.T) {
	s := tempStore(t, "PC1")
	s.MarkPending("PC1_77")
	s.WriteOff([]string{"PC1_77"})

	if !s.Seen("PC1_77") {
		t.Error("written-off id must remain seen (no re-buffering)")
	}
	if s.HighestSequence() != 0 {
		t.Errorf("hwm = %d, want 0 (write-off is not a delivery)", s.HighestSequence())
	}
	if s.PendingCount() != 0 {
		t.Error("write-off must clear pending")
	}
}

func TestPersist_FileShapeAndReload(t *testing.T) {
	s := tempStore(t, "PC1")
	s.Confirm([]string{"PC1_1", "PC1_2", "PC2_9"})
	if err := s.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	raw, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	var sf struct {
		ProcessedIDs         []string       `json:"processed_ids"`
		LastUpdate           string         `json:"last_update"`
		HighestIDThisMachine int64          `json:"highest_id_this_machine"`
		TotalProcessed       int            `json:"total_processed"`
		StatsByMachine       map[string]int `json:"stats_by_machine"`
	}
	if err := json.Unmarshal(raw, &sf); err != nil {
		t.Fatalf("state file not valid JSON: %v", err)
	}
	if sf.TotalProcessed != 3 || len(sf.ProcessedIDs) != 3 {
		t.Errorf("total=%d ids=%d, want 3/3", sf.TotalProcessed, len(sf.ProcessedIDs))
	}
	if sf.HighestIDThisMachine != 2 {
		t.Errorf("highest_id_this_machine = %d, want 2", sf.HighestIDThisMachine)
	}
	if sf.StatsByMachine["PC1"] != 2 || sf.StatsByMachine["PC2"] != 1 {
		t.Errorf("stats_by_machine = %v", sf.StatsByMachine)
	}
	if sf.LastUpdate == "" {
		t.Error("last_update missing")
	}

	// 다시 로드해서 같은 상태가 복원되는지 확인
	s2 := NewStore(s.Path(), "PC1")
	if err := s2.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !s2.Seen("PC1_2") || !s2.Seen("PC2_9") || s2.HighestSequence() != 2 {
		t.Errorf("reload mismatch: hwm=%d", s2.HighestSequence())
	}
}

func TestPersist_PendingNeverPersisted(t *testing.T) {
	s := tempStore(t, "PC1")
	s.Confirm([]string{"PC1_1"})
	s.MarkPending("PC1_2")
	if err := s.Persist(); err != nil {
		t.Fatal(err)
	}

	s2 := NewStore(s.Path(), "PC1")
	if err := s2.Load(); err != nil {
		t.Fatal(err)
	}
	if s2.Seen("PC1_2") {
		t.Error("pending identity must not appear in the persisted store")
	}
}

func TestPersist_CompactionBoundsPerMachine(t *testing.T) {
	s := tempStore(t, "PC1")

	// 3개 호스트 × 2만 건 = 6만 건 → 호스트별 최신 1만 건만 남아야 한다.
	ids := make([]string, 0, 60000)
	for _, machine := range []string{"PC1", "PC2", "PC3"} {
		for seq := int64(1); seq <= 20000; seq++ {
			ids = append(ids, model.EventID(machine, seq))
		}
	}
	s.Confirm(ids)

	if err := s.Persist(); err != nil {
		t.Fatal(err)
	}
	if s.DeliveredCount() != 30000 {
		t.Fatalf("delivered = %d, want 30000 after compaction", s.DeliveredCount())
	}

	// 남은 것은 시퀀스 기준 최신 1만 건이어야 한다 (삽입 순서가 아니라).
	if s.Seen("PC2_10000") {
		t.Error("PC2_10000 should have been compacted away")
	}
	if !s.Seen("PC2_10001") || !s.Seen("PC2_20000") {
		t.Error("most recent PC2 ids must survive compaction")
	}
}

func TestCompactMemory_DropsOldLocalKeepsForeignAndPending(t *testing.T) {
	s := tempStore(t, "PC1")

	ids := make([]string, 0, memoryCompactThreshold+2000)
	for seq := int64(1); seq <= memoryCompactThreshold+2000; seq++ {
		ids = append(ids, model.EventID("PC1", seq))
	}
	s.Confirm(ids)
	s.Confirm([]string{"PC2_3"}) // 오래된 foreign id
	s.MarkPending("PC1_5")      // pending 은 별도 집합

	removed := s.CompactMemory()
	if removed == 0 {
		t.Fatal("expected compaction to run")
	}

	hwm := s.HighestSequence()
	if s.Seen(model.EventID("PC1", hwm-memoryKeepBehind)) {
		t.Error("local id at/below cutoff must be dropped")
	}
	if !s.Seen(model.EventID("PC1", hwm-memoryKeepBehind+1)) {
		t.Error("local id above cutoff must survive")
	}
	if !s.Seen("PC2_3") {
		t.Error("foreign ids are not subject to in-memory compaction")
	}
	if !s.Seen("PC1_5") {
		t.Error("pending identity must never be compacted")
	}
	if s.PendingCount() != 1 {
		t.Errorf("pending count = %d, want 1", s.PendingCount())
	}
}

func TestCompactMemory_NoopUnderThreshold(t *testing.T) {
	s := tempStore(t, "PC1")
	for seq := int64(1); seq <= 100; seq++ {
		s.Confirm([]string{model.EventID("PC1", seq)})
	}
	if removed := s.CompactMemory(); removed != 0 {
		t.Errorf("removed %d ids under threshold", removed)
	}
}

func TestPersist_AtomicReplaceLeavesNoTmp(t *testing.T) {
	s := tempStore(t, "PC1")
	s.Confirm([]string{"PC1_1"})
	if err := s.Persist(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(s.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("tmp file left behind after persist")
	}
}

func BenchmarkSeen(b *testing.B) {
	s := NewStore(filepath.Join(b.TempDir(), "state.json"), "PC1")
	ids := make([]string, 0, 10000)
	for i := int64(0); i < 10000; i++ {
		ids = append(ids, fmt.Sprintf("PC1_%d", i))
	}
	s.Confirm(ids)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Seen("PC1_5000")
	}
}
