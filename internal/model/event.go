// internal/model/event.go
package model

// RawEvent
// ------------------------------------------------------------
// 이벤트 소스(Windows PrintService 로그)가 보고하는 인쇄 이벤트 1건.
// PowerShell 이 출력하는 JSON 한 줄을 그대로 디코딩한 형태이며,
// 추출(extract) 단계를 거친 뒤에는 버려진다.
//
// RecordID 는 호스트 로컬에서 단조 증가하는 시퀀스 번호로,
// MachineName 과 합쳐져 전역 고유 identity 가 된다.
type RawEvent struct {
	RecordID    int64  `json:"RecordId"`    // 로컬 시퀀스 번호 (단조 증가)
	TimeCreated string `json:"TimeCreated"` // "yyyy-MM-dd HH:mm:ss"
	UserID      string `json:"UserId"`      // 이벤트 로그의 사용자 SID/이름
	MachineName string `json:"MachineName"` // 이벤트를 발생시킨 호스트
	Message     string `json:"Message"`     // 자유 텍스트 본문 (언어 혼재)
	Level       string `json:"Level"`       // 이벤트 심각도 표시 문자열
}

// CanonicalEvent
// ------------------------------------------------------------
// 수집기(collector)로 전송되는 정규화된 인쇄 기록.
// Extractor 가 RawEvent 1건으로부터 만들어내며 불변으로 다룬다.
//
// Sequence 와 Machine 조합이 내부 dedup identity 가 되지만
// Sequence 는 wire format 에 포함되지 않는다 (json:"-").
type CanonicalEvent struct {
	Date     string `json:"date"`     // 인쇄 시각 "yyyy-MM-dd HH:mm:ss"
	User     string `json:"user"`     // 문서 소유 사용자
	Machine  string `json:"machine"`  // 인쇄를 수행한 호스트
	Pages    int    `json:"pages"`    // 인쇄 페이지 수, 항상 [1,10000]
	Document string `json:"document"` // 문서 이름
	Printer  string `json:"printer"`  // 프린터 이름

	Sequence int64 `json:"-"` // 내부 전용: dedup identity 계산에만 사용
}

// ID 는 이 이벤트의 dedup identity 를 반환한다.
func (e CanonicalEvent) ID() string {
	return EventID(e.Machine, e.Sequence)
}

// EventBatch
// ------------------------------------------------------------
// 한 번의 전송 시도에 포함되는 이벤트 묶음.
// Batcher 가 만들고 Sender 가 소비하며, 어디에도 영속화되지 않는다.
type EventBatch struct {
	Events []CanonicalEvent `json:"events"`
}
