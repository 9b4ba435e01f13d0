// internal/eventlog/source.go
package eventlog

import (
	"context"
	"time"

	"printmon-agent/internal/model"
)

// Source 는 호스트의 인쇄 이벤트 열거 능력(capability)이다.
//
// 계약:
//   - FetchAll 은 사용 가능한 전체 이력을 반환한다 (catch-up 용).
//     대형 이력에서는 수 초가 걸릴 수 있다.
//   - FetchSince 는 최근 lookBack 구간의 이벤트만 반환한다.
//   - 소스가 일시적으로 사용 불가한 경우, 무한 블로킹하지 말고
//     빈 슬라이스를 반환해야 한다. 에러는 "소스에 접근하는 것
//     자체가 불가능한" 상황에만 쓴다.
type Source interface {
	FetchAll(ctx context.Context) ([]model.RawEvent, error)
	FetchSince(ctx context.Context, lookBack time.Duration) ([]model.RawEvent, error)
}
