// internal/worker/batch.go
package worker

import "printmon-agent/internal/model"

// Chunk 는 이벤트 목록을 전송 배치로 쪼갠다.
//
// 원래 순서를 유지하고 재배열하지 않으며, 마지막 배치는 size 보다
// 짧을 수 있다. 순수 함수. I/O 없음, 입력 slice 의 하위 구간을
// 그대로 참조한다 (복사하지 않음).
func Chunk(events []model.CanonicalEvent, size int) [][]model.CanonicalEvent {
	if len(events) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]model.CanonicalEvent{events}
	}

	batches := make([][]model.CanonicalEvent, 0, (len(events)+size-1)/size)
	for start := 0; start < len(events); start += size {
		end := start + size
		if end > len(events) {
			end = len(events)
		}
		batches = append(batches, events[start:end])
	}
	return batches
}
