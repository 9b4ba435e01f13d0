package worker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"printmon-agent/internal/config"
	"printmon-agent/internal/metrics"
	"printmon-agent/internal/model"

	json "github.com/goccy/go-json"
)

func testSenderConfig(url string) config.Config {
	return config.Config{
		CollectorURL:   url,
		RequestTimeout: 5 * time.Second,
		MaxRetries:     3,
		SendRetryDelay: time.Millisecond,
		BatchPause:     time.Millisecond,
		BatchSize:      50,
	}
}

func TestDeliverPostsWireFormat(t *testing.T) {
	var got model.EventBatch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Write([]byte(`{"message":"2 events stored"}`))
	}))
	defer srv.Close()

	m := metrics.New()
	s := NewSender(testSenderConfig(srv.URL), m)

	events := []model.CanonicalEvent{
		{Date: "2026-08-30 10:00:00", User: "alice", Machine: "PC1", Pages: 7, Document: "report.docx", Printer: "HP-LaserJet", Sequence: 42},
		{Date: "2026-08-30 10:01:00", User: "bob", Machine: "PC1", Pages: 1, Document: "Document", Printer: "Printer", Sequence: 43},
	}
	if err := s.Deliver(context.Background(), events); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if len(got.Events) != 2 {
		t.Fatalf("collector received %d events, want 2", len(got.Events))
	}
	if got.Events[0].User != "alice" || got.Events[0].Pages != 7 {
		t.Errorf("first event mangled: %+v", got.Events[0])
	}
	if n := atomic.LoadInt64(&m.BatchesSentTotal); n != 1 {
		t.Errorf("BatchesSentTotal = %d, want 1", n)
	}
}

func TestDeliverRetriesUntilSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := metrics.New()
	s := NewSender(testSenderConfig(srv.URL), m)

	if err := s.Deliver(context.Background(), makeEvents(1)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("collector called %d times, want 3", n)
	}
	if n := atomic.LoadInt64(&m.SendAttemptErrorsTotal); n != 2 {
		t.Errorf("SendAttemptErrorsTotal = %d, want 2", n)
	}
}

func TestDeliverExhaustsRetryBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := metrics.New()
	s := NewSender(testSenderConfig(srv.URL), m)

	err := s.Deliver(context.Background(), makeEvents(1))
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("collector called %d times, want MaxRetries=3", n)
	}
	if n := atomic.LoadInt64(&m.BatchesSentTotal); n != 0 {
		t.Errorf("BatchesSentTotal = %d, want 0", n)
	}
}

// 2xx 라도 200 이 아니면 실패로 본다.
func TestDeliverRequiresExactly200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := testSenderConfig(srv.URL)
	cfg.MaxRetries = 1
	s := NewSender(cfg, metrics.New())

	if err := s.Deliver(context.Background(), makeEvents(1)); err == nil {
		t.Fatal("202 must not count as success")
	}
}

func TestDeliverEmptyIsNoop(t *testing.T) {
	s := NewSender(testSenderConfig("http://127.0.0.1:1"), metrics.New())
	if err := s.Deliver(context.Background(), nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
}

func TestDeliverAllContinuesAfterFailedBatch(t *testing.T) {
	var batches int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 두 번째 배치만 거부한다.
		if atomic.AddInt32(&batches, 1) == 2 {
			http.Error(w, "no", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testSenderConfig(srv.URL)
	cfg.MaxRetries = 1
	m := metrics.New()
	s := NewSender(cfg, m)

	err := s.DeliverAll(context.Background(), makeEvents(9), 3)
	if err == nil {
		t.Fatal("expected incomplete delivery error")
	}
	if n := atomic.LoadInt32(&batches); n != 3 {
		t.Errorf("collector saw %d batches, want all 3 attempted", n)
	}
	if n := atomic.LoadInt64(&m.BatchesSentTotal); n != 2 {
		t.Errorf("BatchesSentTotal = %d, want 2", n)
	}
}

func TestDeliverAllSuccess(t *testing.T) {
	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch model.EventBatch
		if err := json.NewDecoder(r.Body).Decode(&batch); err == nil {
			atomic.AddInt32(&received, int32(len(batch.Events)))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender(testSenderConfig(srv.URL), metrics.New())
	if err := s.DeliverAll(context.Background(), makeEvents(7), 3); err != nil {
		t.Fatalf("DeliverAll: %v", err)
	}
	if n := atomic.LoadInt32(&received); n != 7 {
		t.Errorf("collector received %d events, want 7", n)
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			t.Errorf("ping path = %q, want /", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender(testSenderConfig(srv.URL+"/api/print_events"), metrics.New())
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	srv.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("expected error pinging closed server")
	}
}
