package archive

import (
	"bufio"
	"bytes"
	"testing"

	"printmon-agent/internal/model"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

func TestEncodeBatchJSONLGZ_RoundTrip(t *testing.T) {
	events := []model.CanonicalEvent{
		{Date: "2024-03-01 10:00:00", User: "alice", Machine: "PC1", Pages: 7, Document: "report.docx", Printer: "HP", Sequence: 42},
		{Date: "2024-03-01 10:01:00", User: "bob", Machine: "PC1", Pages: 1, Document: "memo.txt", Printer: "HP", Sequence: 43},
	}

	data, err := EncodeBatchJSONLGZ(events)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("not a gzip stream: %v", err)
	}
	defer gz.Close()

	var decoded []map[string]any
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err != nil {
			t.Fatalf("line not valid JSON: %v (%s)", err, line)
		}
		decoded = append(decoded, m)
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}

	if len(decoded) != 2 {
		t.Fatalf("decoded %d lines, want 2", len(decoded))
	}
	if decoded[0]["user"] != "alice" || decoded[0]["pages"] != float64(7) {
		t.Errorf("first line mismatch: %v", decoded[0])
	}
	// Sequence 는 내부 전용. 아카이브에도 wire format 그대로 남는다.
	if _, ok := decoded[0]["Sequence"]; ok {
		t.Error("internal sequence field leaked into archive")
	}
}

func TestEncodeBatchJSONLGZ_CallerOwnsResult(t *testing.T) {
	a, err := EncodeBatchJSONLGZ([]model.CanonicalEvent{{User: "a", Machine: "PC1", Pages: 1}})
	if err != nil {
		t.Fatal(err)
	}
	keep := append([]byte(nil), a...)

	// 풀 버퍼 재사용이 이전 결과를 오염시키지 않아야 한다.
	if _, err := EncodeBatchJSONLGZ([]model.CanonicalEvent{{User: "bbbbbbbb", Machine: "PC2", Pages: 2}}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, keep) {
		t.Error("first result mutated by second encode")
	}
}
