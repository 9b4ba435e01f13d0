// internal/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// Config
//
// 에이전트 실행에 필요한 모든 설정값을 보관하는 구조체.
// 프로세스 시작 시 Load() 가 한 번 구성하며, 이후에는 변경되지
// 않는 불변(read-only) 값으로 Agent 생성자에 명시적으로 전달된다.
// 전역 가변 상태는 두지 않는다.
type Config struct {

	// ---------------------------
	// 수집기(collector) 전송
	// ---------------------------

	CollectorURL   string        // 이벤트 배치 POST 대상 URL
	RequestTimeout time.Duration // HTTP 요청 1회당 timeout
	MaxRetries     int           // 배치 1개당 전송 재시도 횟수
	SendRetryDelay time.Duration // 재시도 사이 고정 대기 (마지막 시도 후에는 없음)
	BatchSize      int           // 전송 배치 크기
	BatchPause     time.Duration // 다중 배치 전송 시 배치 사이 pause

	// ---------------------------
	// 폴링 루프
	// ---------------------------

	CheckInterval     time.Duration // steady-poll 주기
	RetryInterval     time.Duration // tick 내부 오류 시 backoff 주기
	LookBack          time.Duration // steady-poll 에서 조회하는 과거 구간
	ProcessAllOnStart bool          // 시작 시 전체 이력 catch-up 수행 여부

	// ---------------------------
	// 로컬 상태 / 식별자
	// ---------------------------

	StatePath   string // 처리 완료 identity 상태 파일 경로
	MachineName string // 로컬 호스트 이름 (identity prefix)
	ServiceName string // 로그 공통 필드

	// ---------------------------
	// 로깅
	// ---------------------------

	LogLevel  string // zerolog 레벨 문자열 ("debug", "info", ...)
	LogPretty bool   // true: 콘솔 포맷 / false: JSON 포맷
	LogFile   string // 비어있지 않으면 해당 파일에도 동시 기록

	// ---------------------------
	// 전송 아카이브 (선택, S3)
	// ---------------------------
	// Retry 정책 단일화
	// --------------------------------------------
	// AWS SDK v2 기본 retry 와 코드 레벨 retry 가 겹치면
	// 처리 지연이 예측 불가능해지므로 SDK retry 는 0으로 고정하고
	// 재시도는 애플리케이션 레벨(S3AppRetries)만 사용한다.
	// --------------------------------------------

	AWSRegion         string        // AWS 리전 (ArchiveBucket 설정 시 필수)
	ArchiveBucket     string        // 비어있으면 아카이브 기능 전체 비활성
	ArchivePrefix     string        // 전송 성공 배치 저장 prefix
	DroppedPrefix     string        // overflow 로 유실된 이벤트 저장 prefix
	SpoolDir          string        // 업로드 실패분 로컬 spool 디렉토리
	SpoolMaxAge       time.Duration // spool 파일 TTL (초과 시 삭제)
	SpoolMaxSizeBytes int64         // spool 전체 허용 용량 (바이트)
	S3Timeout         time.Duration // S3 PutObject 1회당 timeout
	S3AppRetries      int           // S3 업로드 재시도 횟수 (SDK retry 는 항상 0)
}

// ArchiveEnabled 는 전송 아카이브 기능 사용 여부를 반환한다.
func (c Config) ArchiveEnabled() bool {
	return c.ArchiveBucket != ""
}

// fileConfig
//
// 설정 파일(JSON)의 스키마. 원본 에이전트의 config.json 과
// 키가 호환되며, 시간 값은 파일에서는 정수(초/분)로 표현한다.
// 파일에 없는 키는 기본값이 유지된다.
type fileConfig struct {
	ServerURL         string `json:"server_url"`
	RetryInterval     int    `json:"retry_interval"`  // seconds
	CheckInterval     int    `json:"check_interval"`  // seconds
	MaxRetries        int    `json:"max_retries"`
	LogLevel          string `json:"log_level"`
	BatchSize         int    `json:"batch_size"`
	ProcessAllOnStart bool   `json:"process_all_on_start"`
	LookBackMinutes   int    `json:"look_back_minutes"`
	RequestTimeout    int    `json:"request_timeout"` // seconds
	StateFile         string `json:"state_file"`
	LogFile           string `json:"log_file"`

	AWSRegion        string `json:"aws_region"`
	ArchiveBucket    string `json:"archive_bucket"`
	ArchivePrefix    string `json:"archive_prefix"`
	DroppedPrefix    string `json:"dropped_prefix"`
	SpoolDir         string `json:"spool_dir"`
	SpoolMaxAgeHours int    `json:"spool_max_age_hours"`
	SpoolMaxSizeMB   int64  `json:"spool_max_size_mb"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		ServerURL:         "http://192.168.0.4:5002/api/print_events",
		RetryInterval:     30,
		CheckInterval:     5,
		MaxRetries:        3,
		LogLevel:          "info",
		BatchSize:         50,
		ProcessAllOnStart: true,
		LookBackMinutes:   5,
		RequestTimeout:    30,
		StateFile:         "processed_events.json",
		LogFile:           "print_monitor.log",

		ArchivePrefix:    "raw",
		DroppedPrefix:    "dropped",
		SpoolDir:         "spool",
		SpoolMaxAgeHours: 72,
		SpoolMaxSizeMB:   256,
	}
}

// Load 는 설정 파일과 환경 변수로부터 Config 를 구성한다.
//
// 우선순위: 기본값 < 설정 파일 < 환경 변수.
// 설정 파일이 없으면 기본값으로 새로 생성한다 (원본 에이전트와
// 동일한 self-seeding 동작). 수집기 URL 이 끝내 비어 있으면
// 즉시 종료한다 (fail-fast). 그 외에는 어떤 설정 문제도 치명적이지 않다.
func Load(path string) Config {
	fc := defaultFileConfig()

	if raw, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(raw, &fc); err != nil {
			log.Printf("[WARN] invalid config file %s: %v (using defaults)", path, err)
			fc = defaultFileConfig()
		}
	} else if os.IsNotExist(err) {
		// 설정 파일이 없으면 기본값으로 생성해 두어 운영자가
		// 어떤 키를 조정할 수 있는지 바로 볼 수 있게 한다.
		if data, merr := json.MarshalIndent(fc, "", "    "); merr == nil {
			if werr := os.WriteFile(path, data, 0o644); werr != nil {
				log.Printf("[WARN] cannot write default config %s: %v", path, werr)
			}
		}
	} else {
		log.Printf("[WARN] cannot read config file %s: %v (using defaults)", path, err)
	}

	cfg := Config{
		CollectorURL:   envStr("COLLECTOR_URL", fc.ServerURL),
		RequestTimeout: time.Duration(envInt("REQUEST_TIMEOUT_SECONDS", fc.RequestTimeout)) * time.Second,
		MaxRetries:     envInt("MAX_RETRIES", fc.MaxRetries),
		SendRetryDelay: 5 * time.Second,
		BatchSize:      envInt("BATCH_SIZE", fc.BatchSize),
		BatchPause:     time.Second,

		CheckInterval:     time.Duration(envInt("CHECK_INTERVAL_SECONDS", fc.CheckInterval)) * time.Second,
		RetryInterval:     time.Duration(envInt("RETRY_INTERVAL_SECONDS", fc.RetryInterval)) * time.Second,
		LookBack:          time.Duration(envInt("LOOK_BACK_MINUTES", fc.LookBackMinutes)) * time.Minute,
		ProcessAllOnStart: envBool("PROCESS_ALL_ON_START", fc.ProcessAllOnStart),

		StatePath:   envStr("STATE_FILE", fc.StateFile),
		MachineName: fallbackMachineName(),
		ServiceName: "printmon-agent",

		LogLevel:  envStr("LOG_LEVEL", fc.LogLevel),
		LogPretty: envBool("LOG_PRETTY", false),
		LogFile:   envStr("LOG_FILE", fc.LogFile),

		AWSRegion:         envStr("AWS_REGION", fc.AWSRegion),
		ArchiveBucket:     envStr("ARCHIVE_BUCKET", fc.ArchiveBucket),
		ArchivePrefix:     envStr("ARCHIVE_PREFIX", fc.ArchivePrefix),
		DroppedPrefix:     envStr("DROPPED_PREFIX", fc.DroppedPrefix),
		SpoolDir:          envStr("SPOOL_DIR", fc.SpoolDir),
		SpoolMaxAge:       time.Duration(envInt("SPOOL_MAX_AGE_HOURS", fc.SpoolMaxAgeHours)) * time.Hour,
		SpoolMaxSizeBytes: envInt64("SPOOL_MAX_SIZE_MB", fc.SpoolMaxSizeMB) * 1024 * 1024,
		S3Timeout:         10 * time.Second,
		S3AppRetries:      3,
	}

	if cfg.CollectorURL == "" {
		log.Fatalf("collector URL not configured (config %s / COLLECTOR_URL)", path)
	}
	if cfg.ArchiveEnabled() && cfg.AWSRegion == "" {
		log.Fatalf("archive_bucket set but aws_region missing")
	}
	if cfg.BatchSize <= 0 {
		log.Fatalf("invalid batch_size %d", cfg.BatchSize)
	}

	return cfg
}

// envStr / envInt / envInt64 / envBool
//
// 공통 패턴. 환경 변수가 설정되어 있으면 파일/기본값을 덮어쓴다.
// 형식이 잘못된 값은 즉시 종료(fail-fast). 런타임 중에
// 설정 오류를 겪지 않기 위한 보호 전략.
func envStr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid int env %s=%q: %v", key, v, err)
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Fatalf("invalid int64 env %s=%q: %v", key, v, err)
	}
	return n
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("invalid bool env %s=%q: %v", key, v, err)
	}
	return b
}

// fallbackMachineName
//
// identity prefix 로 쓰이는 로컬 호스트 이름.
// hostname 조회가 실패하는 환경은 사실상 없지만, 만약을 위해
// 고정 문자열로 fallback 한다 (빈 prefix 는 identity 를 깨뜨린다).
func fallbackMachineName() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "unknown-host"
}
