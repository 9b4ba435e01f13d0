// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"printmon-agent/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// 에이전트 시작 시 한 번만 호출되는 로거 초기화 함수.
// Config 에 따라 출력 형태가 결정된다.
//
//  1. 로그 포맷:
//     - LogPretty=true: 색상이 있는 콘솔 포맷 (로컬 개발용)
//     - LogPretty=false: JSON 포맷 (수집/검색 시스템용)
//
//  2. 파일 동시 기록:
//     - LogFile 이 설정되어 있으면 콘솔과 파일에 동시에 남긴다.
//       에이전트는 무인 호스트에서 상주 실행되므로, 콘솔이 닫혀도
//       남는 로컬 파일 로그가 장애 분석의 1차 자료가 된다.
//
//  3. 공통 필드:
//     - 모든 로그에 "service", "machine" 이 붙는다. 여러 호스트의
//       로그가 한 곳에 모일 때 발신 호스트를 즉시 식별하기 위함.
//
// 사용 예:
//
//	logger.Init(cfg)
//	log.Info().Msg("agent started")
func Init(cfg config.Config) {

	// 1) 최소 출력 레벨 결정. 잘못된 문자열이면 info 로 동작한다.
	//    로깅 설정 오류로 에이전트가 죽어서는 안 된다.
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil {
		level = l
	}
	zerolog.SetGlobalLevel(level)

	// 2) 콘솔 출력 방식 결정
	var console io.Writer = os.Stdout
	if cfg.LogPretty {
		console = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	// 3) 파일 tee 구성. 파일을 열 수 없으면 콘솔만으로 진행한다.
	w := console
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			stdlog.Printf("[WARN] cannot open log file %s: %v", cfg.LogFile, err)
		} else {
			// 파일 쪽은 항상 JSON — 사람이 아닌 도구가 읽는 쪽이다.
			w = zerolog.MultiLevelWriter(console, f)
		}
	}

	// 4) 기본 Logger 생성 (공통 태그 부착)
	zlog.Logger = zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("machine", cfg.MachineName).
		Logger()

	// 표준 라이브러리 log 를 쓰는 코드(설정 로드 등 초기화 경로)도
	// 같은 출력으로 흐르게 연결한다.
	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}
