package main

import (
	"context"
	"os/signal"
	"syscall"

	"printmon-agent/internal/archive"
	"printmon-agent/internal/config"
	"printmon-agent/internal/dedup"
	"printmon-agent/internal/eventlog"
	"printmon-agent/internal/logger"
	"printmon-agent/internal/metrics"
	"printmon-agent/internal/worker"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {

	// ====================================================================
	// 플래그 & Config 로드
	// ====================================================================
	//
	// - 설정 파일(JSON)이 1차 소스. 파일이 없으면 기본값으로 새로 만든다
	//   (설치 직후 실행을 단순하게 하기 위함).
	// - 환경변수가 파일 값을 덮어쓴다 (배포 스크립트/서비스 등록용).
	// - --log-level 플래그는 환경변수보다도 우선한다. 현장에서 디버깅할 때
	//   파일/환경을 건드리지 않고 바로 올릴 수 있어야 한다.
	// ====================================================================
	configPath := pflag.String("config", "config.json", "path to the JSON config file")
	logLevel := pflag.String("log-level", "", "override log level (debug|info|warn|error)")
	pflag.Parse()

	cfg := config.Load(*configPath)
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger.Init(cfg)
	m := metrics.New()

	log.Info().
		Str("config", *configPath).
		Str("machine", cfg.MachineName).
		Str("collector", cfg.CollectorURL).
		Msg("print monitor agent starting")

	// ====================================================================
	// Dedup 상태 로드
	// ====================================================================
	//
	// 상태 파일이 없거나 깨져 있어도 기동은 계속한다. 빈 상태로
	// 시작하면 최악의 경우 중복 전송이지, 유실은 아니다.
	// 중복 행 처리는 수집기의 책임이다.
	// ====================================================================
	store := dedup.NewStore(cfg.StatePath, cfg.MachineName)
	if err := store.Load(); err != nil {
		log.Warn().Err(err).Str("path", store.Path()).
			Msg("state file unreadable, starting with empty state")
	}

	// ====================================================================
	// 이벤트 소스 확인
	// ====================================================================
	//
	// PowerShell 이 아예 실행되지 않는 환경(경로 누락, 정책 차단)에서는
	// 에이전트가 할 수 있는 일이 없다. 빈 폴링을 영원히 도는 대신
	// 즉시 실패해서 서비스 매니저/운영자가 알아차리게 한다.
	// ====================================================================
	source := eventlog.NewPowerShellSource()
	if err := source.Probe(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("powershell unavailable, cannot read the print event log")
	}

	// ====================================================================
	// 아카이브 (선택)
	// ====================================================================
	//
	// 버킷이 설정된 경우에만 활성화. S3 클라이언트 초기화 실패는
	// 설정 오류이므로 fatal. 아카이브를 켜놓고 조용히 빠뜨리는
	// 것보다 시끄럽게 죽는 편이 낫다.
	// ====================================================================
	var archiver *archive.Archiver
	if cfg.ArchiveEnabled() {
		var err error
		archiver, err = archive.New(context.Background(), cfg, m)
		if err != nil {
			log.Fatal().Err(err).Msg("archive initialization failed")
		}
		log.Info().Str("bucket", cfg.ArchiveBucket).Str("spool", cfg.SpoolDir).
			Msg("delivery archive enabled")
	}

	// ====================================================================
	// Agent 구동
	// ====================================================================
	//
	// SIGINT/SIGTERM 에 ctx 취소로 반응한다. Run 은 진행 중인 tick 을
	// 끝낸 뒤 남은 버퍼의 마지막 전송을 시도하고 상태를 저장한 후
	// 반환한다. 강제 종료(두 번째 신호)는 OS 기본 동작에 맡긴다.
	// ====================================================================
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agent := worker.New(cfg, m, store, source, worker.NewSender(cfg, m), archiver)
	if err := agent.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("agent terminated abnormally")
	}
}
