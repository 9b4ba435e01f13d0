// internal/extract/extract.go
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"printmon-agent/internal/model"
)

// extract.go
// ------------------------------------------------------------
// RawEvent 1건 → CanonicalEvent 1건 정규화.
//
// PrintService 이벤트 메시지는 자유 텍스트이고 OS 언어에 따라
// 포맷이 다르다. 언어별 패턴 그룹을 두고, 필드 카테고리마다
// "첫 번째로 맞는 패턴"을 채택한다.
//
// 추출은 절대 실패하지 않는다. 어떤 패턴도 맞지 않으면 필드별
// sentinel 값으로 degrade 할 뿐, 레코드를 버리지 않는다.
// I/O 없음. 순수 함수로 유지한다.

// 필드별 sentinel. 패턴 불일치 시의 기본값.
const (
	UnknownUser     = "Unknown"
	UnknownDocument = "Document"
	UnknownPrinter  = "Printer"
)

// 페이지 수 유효 범위. 벗어나면 추출 실패로 간주하고 1로 degrade.
const (
	MinPages = 1
	MaxPages = 10000
)

// langPatterns 는 한 언어의 패턴 그룹이다.
// pages 는 우선순위 순서대로 시도된다:
//  1. "Pages printed: N" 류의 명시 표현
//  2. "Total pages printed: N" 류의 명시 표현
//  3. 꼬리의 "N page(s)" 표현
//  4. 바이트 크기 + 페이지 수 복합 표현
type langPatterns struct {
	detect  []string // 메시지에 포함되면 이 언어로 판정
	docUser *regexp.Regexp
	printer *regexp.Regexp
	pages   []*regexp.Regexp
}

// size+count 복합 패턴은 언어 키워드를 모두 포함하므로 공유한다.
var sizeCountPattern = regexp.MustCompile(
	`(?:Size in bytes:|Tamanho em bytes:)\s*\d+\.\s*(?:Pages printed:|Páginas impressas:)?\s*(\d+)`)

var portuguese = langPatterns{
	detect:  []string{"pertencente a", "foi impresso"},
	docUser: regexp.MustCompile(`O documento \d+, (.+?) pertencente a (.+?) em`),
	printer: regexp.MustCompile(`foi impresso em (.+?)(?:\s+pela porta|\s+através|\.|$)`),
	pages: []*regexp.Regexp{
		regexp.MustCompile(`Páginas impressas:\s*(\d+)`),
		regexp.MustCompile(`Total de páginas impressas:\s*(\d+)`),
		regexp.MustCompile(`(?i)(\d+)\s+páginas?\b`),
		sizeCountPattern,
	},
}

var english = langPatterns{
	docUser: regexp.MustCompile(`Document \d+, (.+?) owned by (.+?) on`),
	printer: regexp.MustCompile(`was printed on (.+?)(?:\s+through|\s+via|\.|$)`),
	pages: []*regexp.Regexp{
		regexp.MustCompile(`Pages printed:\s*(\d+)`),
		regexp.MustCompile(`Total pages printed:\s*(\d+)`),
		regexp.MustCompile(`(?i)(\d+)\s+pages?\b`),
		sizeCountPattern,
	},
}

// 최후 수단: 키워드 근처의 아무 숫자나 긁는 generic 스캔.
// 언어 그룹 패턴이 전부 실패했을 때만 시도된다.
var genericPagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:páginas?|pages?)\s*:\s*(\d+)`),
	regexp.MustCompile(`(?i)(\d+)\s*(?:páginas?|pages?)`),
	regexp.MustCompile(`(?:total|Total)\s*:\s*(\d+)`),
	regexp.MustCompile(`(?i)(?:impressas?|printed)\s*:\s*(\d+)`),
}

// Extractor 는 raw 이벤트를 canonical 레코드로 정규화한다.
type Extractor struct {
	// MachineName 이 비어있는 raw 이벤트에 붙일 로컬 호스트 이름.
	machine string
}

func New(machine string) *Extractor {
	return &Extractor{machine: machine}
}

// Extract 는 RawEvent 1건을 CanonicalEvent 로 변환한다.
//
// 두 번째 반환값 pagesFound 는 페이지 수가 실제 패턴에서
// 얻어졌는지 여부다. false 면 기본값 1. 호출자가 카운터를
// 올리고 로그를 남기는 데 쓴다 (추출 자체는 순수하게 유지).
func (x *Extractor) Extract(raw model.RawEvent) (ev model.CanonicalEvent, pagesFound bool) {
	ev = model.CanonicalEvent{
		Date:     raw.TimeCreated,
		User:     UnknownUser,
		Machine:  raw.MachineName,
		Pages:    MinPages,
		Document: UnknownDocument,
		Printer:  UnknownPrinter,
		Sequence: raw.RecordID,
	}
	if ev.Machine == "" {
		ev.Machine = x.machine
	}
	if ev.Date == "" {
		ev.Date = time.Now().Format("2006-01-02 15:04:05")
	}

	lang := detectLanguage(raw.Message)

	// 문서 이름 + 사용자 (한 패턴에서 동시 추출)
	if m := lang.docUser.FindStringSubmatch(raw.Message); m != nil {
		ev.Document = strings.TrimSpace(m[1])
		ev.User = strings.TrimSpace(m[2])
	}

	// 프린터
	if m := lang.printer.FindStringSubmatch(raw.Message); m != nil {
		ev.Printer = strings.TrimSpace(m[1])
	}

	// 페이지 수: 언어 그룹 패턴 → generic 스캔 순서로,
	// [MinPages,MaxPages] 범위 안의 값을 내는 첫 패턴이 이긴다.
	if n, ok := findPages(raw.Message, lang.pages); ok {
		ev.Pages = n
		pagesFound = true
	} else if n, ok := findPages(raw.Message, genericPagePatterns); ok {
		ev.Pages = n
		pagesFound = true
	}

	return ev, pagesFound
}

func detectLanguage(message string) langPatterns {
	for _, marker := range portuguese.detect {
		if strings.Contains(message, marker) {
			return portuguese
		}
	}
	return english
}

func findPages(message string, patterns []*regexp.Regexp) (int, bool) {
	for _, p := range patterns {
		m := p.FindStringSubmatch(message)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < MinPages || n > MaxPages {
			// 범위 밖 값은 이 패턴의 실패로 보고 다음 패턴을 시도한다.
			continue
		}
		return n, true
	}
	return 0, false
}
