// internal/pool/pool.go
package pool

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// 아카이브 인코딩용 재사용 풀.
//
// 배치 하나를 gzip+JSONL 로 인코딩할 때마다 버퍼와 gzip.Writer 를
// 새로 만들면 catch-up 처럼 배치가 연달아 수십 개 나가는 구간에서
// 할당이 몰린다. 풀로 재사용해 GC 부담을 줄인다.
// ---------------------------------------------------------------

var (
	// BufferPool:
	//   - gzip 인코딩 결과를 담는 임시 버퍼
	//   - 초기 용량 64KB (배치 50건 기준이면 충분)
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 64*1024))
		},
	}

	// GzipPool:
	//   - gzip.Writer 재사용 (매번 new 하면 비용이 크다)
	//   - BestSpeed: 아카이브는 장기 보관용이지만 에이전트가
	//     사용자 호스트에서 돌기 때문에 CPU 를 아끼는 쪽을 택한다.
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}
)

// 풀에 되돌려줄 최대 버퍼 용량. 이보다 크면 GC 에게 맡긴다.
const MaxBufferCap = 1 * 1024 * 1024 // 1MB

// PutBuffer 는 인코딩 결과 버퍼를 풀에 반환한다.
// 초대형 배치의 결과 버퍼는 풀로 돌리지 않는다.
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}
