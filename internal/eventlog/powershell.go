// internal/eventlog/powershell.go
package eventlog

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"printmon-agent/internal/model"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// PowerShellSource 는 Windows PrintService Operational 로그에서
// 이벤트 ID 307(인쇄 완료)을 PowerShell 로 긁어오는 Source 구현이다.
//
// PowerShell 은 이벤트를 줄 단위 JSON 으로 출력하고, 우리는 '{' 로
// 시작하는 줄만 디코딩한다 (진행 메시지 등 잡음은 무시).
// Get-WinEvent 가 실패해도 -ErrorAction SilentlyContinue 덕분에
// stdout 이 비어있을 뿐이므로, 소스 일시 장애는 빈 슬라이스로
// 자연스럽게 표현된다.
type PowerShellSource struct{}

func NewPowerShellSource() *PowerShellSource {
	return &PowerShellSource{}
}

// 전체 이력 조회 스크립트. 이벤트당 JSON 한 줄.
const fetchAllScript = `
$eventos = Get-WinEvent -FilterHashtable @{
    LogName='Microsoft-Windows-PrintService/Operational'
    ID=307
} -ErrorAction SilentlyContinue

foreach ($evento in $eventos) {
    $output = @{
        RecordId = $evento.RecordId
        TimeCreated = $evento.TimeCreated.ToString('yyyy-MM-dd HH:mm:ss')
        UserId = if ($evento.UserId) { $evento.UserId.Value } else { 'System' }
        MachineName = $evento.MachineName
        Message = $evento.Message
        Level = $evento.LevelDisplayName
    }
    $output | ConvertTo-Json -Compress
}
`

// 최근 구간 조회 스크립트. %d 에 look-back 분이 들어간다.
const fetchSinceScriptFmt = `
$startTime = (Get-Date).AddMinutes(-%d)

$eventos = Get-WinEvent -FilterHashtable @{
    LogName='Microsoft-Windows-PrintService/Operational'
    ID=307
    StartTime=$startTime
} -ErrorAction SilentlyContinue

foreach ($evento in $eventos) {
    $output = @{
        RecordId = $evento.RecordId
        TimeCreated = $evento.TimeCreated.ToString('yyyy-MM-dd HH:mm:ss')
        UserId = if ($evento.UserId) { $evento.UserId.Value } else { 'System' }
        MachineName = $evento.MachineName
        Message = $evento.Message
        Level = $evento.LevelDisplayName
    }
    $output | ConvertTo-Json -Compress
}
`

func (p *PowerShellSource) FetchAll(ctx context.Context) ([]model.RawEvent, error) {
	return p.run(ctx, fetchAllScript)
}

func (p *PowerShellSource) FetchSince(ctx context.Context, lookBack time.Duration) ([]model.RawEvent, error) {
	minutes := int(lookBack.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return p.run(ctx, fmt.Sprintf(fetchSinceScriptFmt, minutes))
}

func (p *PowerShellSource) run(ctx context.Context, script string) ([]model.RawEvent, error) {
	cmd := exec.CommandContext(ctx, "powershell", "-ExecutionPolicy", "Bypass", "-Command", script)
	out, err := cmd.Output()
	if err != nil {
		// exit code ≠ 0 이라도 stdout 에 이벤트가 있으면 살린다.
		if len(out) == 0 {
			return nil, fmt.Errorf("powershell query: %w", err)
		}
		log.Warn().Err(err).Msg("powershell exited non-zero, using partial output")
	}
	return parseEvents(out), nil
}

// parseEvents 는 PowerShell stdout 에서 JSON 줄만 골라 디코딩한다.
// 깨진 줄은 건너뛴다. 이벤트 1건 때문에 조회 전체를 버리지 않는다.
func parseEvents(out []byte) []model.RawEvent {
	var events []model.RawEvent
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var ev model.RawEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			log.Debug().Err(err).Str("line", truncate(line, 120)).Msg("skipping malformed event line")
			continue
		}
		events = append(events, ev)
	}
	return events
}

// Probe 는 PowerShell 이 실행 가능한지 확인한다. 시작 시 1회 호출.
// 이게 실패하면 이 호스트에서 에이전트는 동작할 수 없다 (fatal).
func (p *PowerShellSource) Probe(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "powershell", "-Command", "Write-Host 'ok'")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("powershell unavailable: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
