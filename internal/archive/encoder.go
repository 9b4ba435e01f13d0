// internal/archive/encoder.go
package archive

import (
	"bytes"

	"printmon-agent/internal/model"
	"printmon-agent/internal/pool"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// EncodeBatchJSONLGZ 는 이벤트 배치를 줄 단위 JSON(JSONL)으로
// 인코딩한 뒤 gzip 압축해 반환한다. 한 줄이 수집기로 전송된
// wire format 의 이벤트 1건과 동일하다.
//
// 반환 slice 는 호출자 소유의 새 복사본이다. 내부 버퍼는
// 풀로 돌아가 재사용되므로 그대로 넘기면 안 된다.
func EncodeBatchJSONLGZ(events []model.CanonicalEvent) ([]byte, error) {
	buf := pool.BufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	gz := pool.GzipPool.Get().(*gzip.Writer)
	gz.Reset(buf)

	enc := json.NewEncoder(gz)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			_ = gz.Close()
			pool.GzipPool.Put(gz)
			pool.PutBuffer(buf)
			return nil, err
		}
	}

	// Close() 가 footer 를 써야 gzip 스트림이 완성된다.
	if err := gz.Close(); err != nil {
		pool.GzipPool.Put(gz)
		pool.PutBuffer(buf)
		return nil, err
	}
	pool.GzipPool.Put(gz)

	raw := buf.Bytes()
	data := make([]byte, len(raw))
	copy(data, raw)

	pool.PutBuffer(buf)
	return data, nil
}
