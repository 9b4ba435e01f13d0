// internal/model/identity.go
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// identity.go
// ------------------------------------------------------------
// dedup identity 인코딩 규칙.
//
// 형식: "<machine>_<sequence>"
//
// 시퀀스 번호는 호스트 내부에서만 고유하므로, 여러 호스트가
// 하나의 상태 파일을 공유하더라도 machine prefix 덕분에
// 충돌하지 않는다. 같은 입력이면 언제나 같은 문자열이 나온다.
//
// 과거 버전 상태 파일에는 identity 가 순수 정수로만 저장되어
// 있었다 (machine prefix 없음). 로드 시 해당 값들은 로컬
// 호스트 소속으로 해석해 변환한다 (dedup.Store.Load 참고).

// EventID 는 (machine, sequence) 쌍을 identity 문자열로 인코딩한다.
func EventID(machine string, sequence int64) string {
	return fmt.Sprintf("%s_%d", machine, sequence)
}

// SplitEventID 는 identity 문자열을 (machine, sequence)로 분해한다.
//
// machine 이름 자체에 '_' 가 들어갈 수 있으므로 반드시
// 마지막 '_' 를 기준으로 잘라야 한다. 시퀀스 부분이 숫자가
// 아니면 ok=false 를 반환한다.
func SplitEventID(id string) (machine string, sequence int64, ok bool) {
	i := strings.LastIndexByte(id, '_')
	if i <= 0 || i == len(id)-1 {
		return "", 0, false
	}
	seq, err := strconv.ParseInt(id[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return id[:i], seq, true
}
