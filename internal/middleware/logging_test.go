package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/bookman/internal/model"
)

// recordingStatusMetrics は記録されたステータスコードを保持するスタブ。
type recordingStatusMetrics struct {
	statuses []int
}

func (m *recordingStatusMetrics) RecordHTTPStatus(statusCode int) {
	m.statuses = append(m.statuses, statusCode)
}

// リクエストログにmethod・path・statusが含まれることを検証
func TestLoggingMiddleware_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	collector := &recordingStatusMetrics{}

	handler := NewLoggingMiddleware(logger, collector)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output should be JSON: %v", err)
	}
	if entry["msg"] != "http_request" {
		t.Errorf("msg = %v, want http_request", entry["msg"])
	}
	if entry["method"] != "GET" {
		t.Errorf("method = %v, want GET", entry["method"])
	}
	if entry["path"] != "/api/books" {
		t.Errorf("path = %v, want /api/books", entry["path"])
	}
	if entry["status"] != float64(http.StatusOK) {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("log entry should include duration_ms")
	}

	if len(collector.statuses) != 1 || collector.statuses[0] != http.StatusOK {
		t.Errorf("statuses = %v, want [200]", collector.statuses)
	}
}

// 認証済みリクエストのログにsubjectが含まれることを検証
func TestLoggingMiddleware_IncludesSubject(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := NewLoggingMiddleware(logger, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
	principal := &model.Principal{Subject: "user-1"}
	req = req.WithContext(ContextWithPrincipal(req.Context(), principal))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output should be JSON: %v", err)
	}
	if entry["subject"] != "user-1" {
		t.Errorf("subject = %v, want user-1", entry["subject"])
	}
}

// ステータスコードに応じたログレベルで出力されることを検証
func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{"2xx is info", http.StatusOK, "INFO"},
		{"4xx is warn", http.StatusNotFound, "WARN"},
		{"5xx is error", http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})
			handler := NewLoggingMiddleware(logger, nil)(next)

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/books", nil))

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("log output should be JSON: %v", err)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
		})
	}
}

// WriteHeaderを呼ばないハンドラで200が記録されることを検証
func TestStatusRecorder_ImplicitOK(t *testing.T) {
	collector := &recordingStatusMetrics{}
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("hello"))
	})
	handler := NewLoggingMiddleware(logger, collector)(next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if len(collector.statuses) != 1 || collector.statuses[0] != http.StatusOK {
		t.Errorf("statuses = %v, want [200]", collector.statuses)
	}
}
