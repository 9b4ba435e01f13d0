package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"printmon-agent/internal/config"
	"printmon-agent/internal/metrics"
)

type fakePutter struct {
	keys []string
	err  error
}

func (f *fakePutter) UploadFile(_ context.Context, key string, _ io.ReadSeeker, _ int64) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	return nil
}

func spoolConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		SpoolDir:          t.TempDir(),
		SpoolMaxSizeBytes: 1024,
		SpoolMaxAge:       time.Hour,
		ArchivePrefix:     "raw",
		DroppedPrefix:     "dropped",
	}
}

func spoolName(unix int64, counter int) string {
	return fmt.Sprintf("%d_PC1_%06d.jsonl.gz", unix, counter)
}

func TestSpool_SaveAndProcessOne(t *testing.T) {
	cfg := spoolConfig(t)
	put := &fakePutter{}
	s := NewSpool(cfg, metrics.New(), put)

	name := spoolName(time.Now().Unix(), 1)
	if err := s.Save(name, []byte("payload"), spoolMeta{NumEvents: 3, Prefix: "dropped"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	s.ProcessOneCtx(context.Background())

	if len(put.keys) != 1 {
		t.Fatalf("uploaded %d files, want 1", len(put.keys))
	}
	// meta 의 prefix 가 키에 반영되어야 한다.
	if want := "dropped/"; put.keys[0][:len(want)] != want {
		t.Errorf("key = %q, want prefix %q", put.keys[0], want)
	}
	if _, err := os.Stat(filepath.Join(cfg.SpoolDir, name)); !os.IsNotExist(err) {
		t.Error("spool file not removed after successful reupload")
	}
}

func TestSpool_UploadFailureKeepsFile(t *testing.T) {
	cfg := spoolConfig(t)
	put := &fakePutter{err: errors.New("s3 down")}
	s := NewSpool(cfg, metrics.New(), put)

	name := spoolName(time.Now().Unix(), 1)
	if err := s.Save(name, []byte("payload"), spoolMeta{NumEvents: 1, Prefix: "raw"}); err != nil {
		t.Fatal(err)
	}

	s.ProcessOneCtx(context.Background())

	if _, err := os.Stat(filepath.Join(cfg.SpoolDir, name)); err != nil {
		t.Error("spool file must survive a failed reupload")
	}
}

func TestSpool_TTLExpiry(t *testing.T) {
	cfg := spoolConfig(t)
	put := &fakePutter{}
	m := metrics.New()
	s := NewSpool(cfg, m, put)

	// 파일명 timestamp 가 TTL 을 한참 넘긴 파일.
	old := spoolName(time.Now().Add(-2*time.Hour).Unix(), 1)
	if err := s.Save(old, []byte("stale"), spoolMeta{NumEvents: 1, Prefix: "raw"}); err != nil {
		t.Fatal(err)
	}

	s.ProcessOneCtx(context.Background())

	if len(put.keys) != 0 {
		t.Error("expired file must not be uploaded")
	}
	if _, err := os.Stat(filepath.Join(cfg.SpoolDir, old)); !os.IsNotExist(err) {
		t.Error("expired file not deleted")
	}
	if m.SpoolFilesExpiredTotal != 1 {
		t.Errorf("expired counter = %d, want 1", m.SpoolFilesExpiredTotal)
	}
}

func TestSpool_CapacityEvictsOldestFirst(t *testing.T) {
	cfg := spoolConfig(t)
	cfg.SpoolMaxSizeBytes = 20
	s := NewSpool(cfg, metrics.New(), &fakePutter{})

	now := time.Now().Unix()
	oldName := spoolName(now-100, 1)
	newName := spoolName(now, 2)

	if err := s.Save(oldName, []byte("0123456789"), spoolMeta{NumEvents: 1, Prefix: "raw"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(newName, []byte("0123456789"), spoolMeta{NumEvents: 1, Prefix: "raw"}); err != nil {
		t.Fatal(err)
	}
	// 용량 초과를 만드는 세 번째 저장 → 가장 오래된 파일이 밀려난다.
	third := spoolName(now+1, 3)
	if err := s.Save(third, []byte("0123456789"), spoolMeta{NumEvents: 1, Prefix: "raw"}); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(cfg.SpoolDir, oldName)); !os.IsNotExist(err) {
		t.Error("oldest file should have been evicted")
	}
	if _, err := os.Stat(filepath.Join(cfg.SpoolDir, third)); err != nil {
		t.Error("newest file should have been kept")
	}
}

func TestSpool_InitCleansMetaOrphans(t *testing.T) {
	cfg := spoolConfig(t)
	orphan := filepath.Join(cfg.SpoolDir, spoolName(time.Now().Unix(), 9)+".meta.json")
	if err := os.WriteFile(orphan, []byte(`{"num_events":1}`), 0o600); err != nil {
		t.Fatal(err)
	}

	NewSpool(cfg, metrics.New(), &fakePutter{})

	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Error("meta orphan not cleaned up at init")
	}
}

func TestExtractUnixFromFilename(t *testing.T) {
	if sec, ok := extractUnixFromFilename("1764721594_PC1_000042.jsonl.gz"); !ok || sec != 1764721594 {
		t.Errorf("got %d,%v", sec, ok)
	}
	if _, ok := extractUnixFromFilename("garbage.jsonl.gz"); ok {
		t.Error("expected parse failure")
	}
}
