// internal/archive/filename.go
package archive

import (
	"fmt"
	"sync/atomic"
	"time"
)

// filename.go
// ------------------------------------------------------------
// 아카이브/spool 파일명 규칙.
//
//	<unix>_<machine>_<counter>.jsonl.gz
//
// 예:
//
//	1764721594_PC1_000042.jsonl.gz
//
// 문자열 정렬 = 시간 정렬이므로 spool 에서 가장 오래된 파일을
// 먼저 처리하는 기준으로 쓰고, TTL 판단도 파일명 prefix 의
// Unix timestamp 로 한다 (mtime 은 복사/이동에 취약하다).
var fileCounter uint64

// nextCounter 는 같은 초 안에 만들어진 파일들을 구분한다.
// 1,000,000 에서 wrap 하지만 timestamp 와 조합되므로 충돌은 없다.
func nextCounter() uint64 {
	return atomic.AddUint64(&fileCounter, 1) % 1_000_000
}

// NewFilename 은 새 아카이브 파일명을 생성한다.
func NewFilename(machine string) string {
	return fmt.Sprintf("%d_%s_%06d.jsonl.gz", time.Now().Unix(), machine, nextCounter())
}

// BuildKey 는 S3 오브젝트 키를 만든다.
//
//	<prefix>/dt=<YYYY-MM-DD>/hr=<HH>/<filename>
//
// 날짜/시간 파티션 구조라 기간 단위 조회 비용이 싸다.
func BuildKey(prefix, filename string) string {
	now := time.Now().UTC()
	return fmt.Sprintf("%s/dt=%s/hr=%s/%s", prefix, now.Format("2006-01-02"), now.Format("15"), filename)
}
