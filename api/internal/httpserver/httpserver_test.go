package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

func TestHealthz(t *testing.T) {
	s := New(":0", Checks{Backend: func() string { return "connected" }}, zap.NewNop())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["backend"] != "connected" || body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestHealthzDBDown(t *testing.T) {
	s := New(":0", Checks{DB: func(context.Context) error { return errors.New("refused") }}, zap.NewNop())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestWebhook(t *testing.T) {
	s := New(":0", Checks{}, zap.NewNop())
	var got tgbotapi.Update
	s.HandleWebhook("/webhook/abc", func(u tgbotapi.Update) { got = u })

	payload := `{"update_id":10,"message":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"/start"}}`
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/abc", strings.NewReader(payload)))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if got.UpdateID != 10 || got.Message == nil || got.Message.Chat.ID != 42 {
		t.Errorf("update = %+v", got)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/abc", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad payload code = %d", rec.Code)
	}
}
