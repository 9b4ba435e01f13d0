// internal/archive/spool.go
package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"printmon-agent/internal/config"
	"printmon-agent/internal/metrics"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// filePutter 는 spool 재업로드가 필요로 하는 최소 능력이다.
type filePutter interface {
	UploadFile(ctx context.Context, key string, f io.ReadSeeker, size int64) error
}

// Spool 은 S3 업로드에 실패한 아카이브 배치를 로컬 디스크에
// 보관했다가 재업로드한다. 수집기 전송과는 무관하다. 아카이브가
// 막혀도 이벤트 전송/확정에는 영향이 없다.
//
// 파일 하나 = 배치 하나(gzip+JSONL). 옆에 붙는 .meta.json 사이드카가
// 이벤트 수와 원래 목적지 prefix 를 기억한다.
// TTL 판단은 파일명 prefix 의 Unix timestamp 기준이다.
type Spool struct {
	cfg      config.Config
	metrics  *metrics.Metrics
	uploader filePutter

	sizeBytes int64
}

type spoolMeta struct {
	NumEvents int    `json:"num_events"`
	Prefix    string `json:"prefix"`
}

// NewSpool 은 spool 디렉토리를 초기화하고 기존 파일을 스캔해
// 크기/개수 gauge 를 복원한다. data 파일 없이 남은 meta orphan 은
// 이때 정리한다.
func NewSpool(cfg config.Config, m *metrics.Metrics, uploader filePutter) *Spool {
	_ = os.MkdirAll(cfg.SpoolDir, 0o755)

	s := &Spool{cfg: cfg, metrics: m, uploader: uploader}

	var total, count int64
	entries, err := os.ReadDir(cfg.SpoolDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()

			if strings.HasSuffix(name, ".meta.json") {
				dataName := strings.TrimSuffix(name, ".meta.json")
				if _, err := os.Stat(filepath.Join(cfg.SpoolDir, dataName)); os.IsNotExist(err) {
					_ = os.Remove(filepath.Join(cfg.SpoolDir, name))
				}
				continue
			}

			if info, err := e.Info(); err == nil {
				total += info.Size()
				count++
			}
		}
	}

	atomic.StoreInt64(&s.sizeBytes, total)
	atomic.StoreInt64(&m.SpoolSizeBytes, total)
	atomic.StoreInt64(&m.SpoolFilesCurrent, count)

	return s
}

// Save 는 업로드 실패한 배치를 spool 에 저장한다.
// 용량이 부족하면 가장 오래된 파일부터 비우고, 그래도 공간이
// 없으면 이 배치의 아카이브를 포기한다 (전송 기록 자체는 이미
// 수집기 또는 상태 파일에 남아 있다).
func (s *Spool) Save(name string, data []byte, meta spoolMeta) error {
	if len(data) == 0 {
		return nil
	}

	size := int64(len(data))
	if !s.ensureCapacity(size) {
		log.Error().Int64("bytes", size).Int("events", meta.NumEvents).
			Msg("spool full, dropping archive batch")
		return nil
	}

	dataPath := filepath.Join(s.cfg.SpoolDir, name)
	metaPath := dataPath + ".meta.json"

	if err := os.WriteFile(dataPath, data, 0o600); err != nil {
		return err
	}
	if raw, err := json.Marshal(meta); err == nil {
		_ = os.WriteFile(metaPath, raw, 0o600)
	}

	atomic.AddInt64(&s.sizeBytes, size)
	atomic.AddInt64(&s.metrics.SpoolSizeBytes, size)
	atomic.AddInt64(&s.metrics.SpoolFilesCurrent, 1)
	return nil
}

// ensureCapacity 는 SpoolMaxSizeBytes 를 넘지 않도록 가장 오래된
// 파일부터 지운다. 더 지울 파일이 없으면 false.
func (s *Spool) ensureCapacity(incoming int64) bool {
	max := s.cfg.SpoolMaxSizeBytes
	if max <= 0 {
		return true
	}

	for {
		if atomic.LoadInt64(&s.sizeBytes)+incoming <= max {
			return true
		}

		oldest := s.pickOldest()
		if oldest == "" {
			return false
		}
		s.remove(oldest, true)
	}
}

// ProcessOneCtx 는 가장 오래된 spool 파일 1개를 재업로드한다.
// TTL(SpoolMaxAge) 초과분은 업로드 대신 삭제한다.
// Agent tick 마다 1회 호출되므로 spool 은 천천히 비워진다.
func (s *Spool) ProcessOneCtx(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	name := s.pickOldest()
	if name == "" {
		return
	}

	dataPath := filepath.Join(s.cfg.SpoolDir, name)
	info, err := os.Stat(dataPath)
	if err != nil {
		// 파일이 사라졌으면 정리만 한다.
		s.remove(name, false)
		return
	}

	// TTL: 파일명 prefix 의 Unix timestamp 기준.
	if s.cfg.SpoolMaxAge > 0 {
		if sec, ok := extractUnixFromFilename(name); ok {
			age := time.Duration(time.Now().Unix()-sec) * time.Second
			if age > s.cfg.SpoolMaxAge {
				log.Info().Str("file", name).Dur("age", age).Msg("spool file expired")
				s.remove(name, true)
				return
			}
		}
	}

	meta := s.readMeta(name)

	f, err := os.Open(dataPath)
	if err != nil {
		log.Warn().Err(err).Str("file", name).Msg("spool open failed")
		return
	}
	defer f.Close()

	key := BuildKey(meta.Prefix, name)
	if err := s.uploader.UploadFile(ctx, key, f, info.Size()); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("spool reupload failed")
		return
	}

	atomic.AddInt64(&s.metrics.ArchiveBatchesStoredTotal, 1)
	log.Info().Str("key", key).Int("events", meta.NumEvents).Msg("spool batch archived")
	s.remove(name, false)
}

// readMeta 는 사이드카를 읽는다. 없거나 깨졌으면 기본값으로 진행.
func (s *Spool) readMeta(name string) spoolMeta {
	meta := spoolMeta{NumEvents: 1, Prefix: s.cfg.ArchivePrefix}
	raw, err := os.ReadFile(filepath.Join(s.cfg.SpoolDir, name+".meta.json"))
	if err != nil {
		return meta
	}
	var v spoolMeta
	if json.Unmarshal(raw, &v) == nil {
		if v.NumEvents > 0 {
			meta.NumEvents = v.NumEvents
		}
		if v.Prefix != "" {
			meta.Prefix = v.Prefix
		}
	}
	return meta
}

// remove 는 data/meta 파일 쌍을 지우고 gauge 를 갱신한다.
func (s *Spool) remove(name string, expired bool) {
	dataPath := filepath.Join(s.cfg.SpoolDir, name)

	if info, err := os.Stat(dataPath); err == nil {
		atomic.AddInt64(&s.sizeBytes, -info.Size())
		atomic.AddInt64(&s.metrics.SpoolSizeBytes, -info.Size())
	}
	_ = os.Remove(dataPath)
	_ = os.Remove(dataPath + ".meta.json")

	atomic.AddInt64(&s.metrics.SpoolFilesCurrent, -1)
	if expired {
		atomic.AddInt64(&s.metrics.SpoolFilesExpiredTotal, 1)
	}
}

// pickOldest 는 data 파일 중 파일명 기준으로 가장 오래된 것을
// 고른다. ReadDir 결과는 임의 순서이므로 정렬이 필요하며,
// 파일명 규칙상 문자열 정렬 = 시간 정렬이다.
func (s *Spool) pickOldest() string {
	entries, err := os.ReadDir(s.cfg.SpoolDir)
	if err != nil {
		return ""
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".meta.json") {
			continue
		}
		if name == "" || name[0] == '.' {
			continue
		}
		files = append(files, name)
	}
	if len(files) == 0 {
		return ""
	}

	sort.Strings(files)
	return files[0]
}

// extractUnixFromFilename 은 "<unix>_<machine>_<counter>.jsonl.gz"
// 의 prefix 에서 Unix seconds 를 파싱한다.
func extractUnixFromFilename(name string) (int64, bool) {
	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return 0, false
	}
	sec, err := strconv.ParseInt(name[:idx], 10, 64)
	if err != nil || sec <= 0 {
		return 0, false
	}
	return sec, true
}
