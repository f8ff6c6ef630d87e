package telegram

import (
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"xray-bot/api/internal/session"
	"xray-bot/api/internal/store"
	"xray-bot/api/internal/xray"
)

func buttons(kb *tgbotapi.InlineKeyboardMarkup) []string {
	if kb == nil {
		return nil
	}
	var out []string
	for _, row := range kb.InlineKeyboard {
		for _, b := range row {
			if b.CallbackData != nil {
				out = append(out, *b.CallbackData)
			}
		}
	}
	return out
}

func TestRenderSnapshotButtons(t *testing.T) {
	file := &xray.SelectedFile{Name: "chest.png", MediaType: "image/png", Size: 2 << 20}

	cases := []struct {
		name string
		snap session.Snapshot
		want string
	}{
		{"idle", session.Snapshot{State: session.StateIdle, Connection: xray.StatusConnected}, ""},
		{"ready to submit", session.Snapshot{State: session.StateFileSelected, Connection: xray.StatusConnected, File: file, CanSubmit: true}, "submit,reset"},
		{"backend down", session.Snapshot{State: session.StateFileSelected, Connection: xray.StatusFailed, File: file}, "retry_conn,reset"},
		{"submitting", session.Snapshot{State: session.StateSubmitting, Connection: xray.StatusConnected, File: file}, ""},
		{"image result", session.Snapshot{State: session.StateResultReady, Connection: xray.StatusConnected, File: file, Result: &xray.Result{Image: []byte{1}}}, "download,reset"},
		{"table result", session.Snapshot{State: session.StateResultReady, Connection: xray.StatusConnected, File: file, Result: &xray.Result{Predictions: []xray.Prediction{{Class: "Normal", Probability: 90}}}}, "reset"},
	}
	for _, c := range cases {
		_, kb := renderSnapshot(c.snap)
		if got := strings.Join(buttons(kb), ","); got != c.want {
			t.Errorf("%s: buttons = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestRenderSnapshotRetryLabel(t *testing.T) {
	snap := session.Snapshot{
		State:      session.StateError,
		Connection: xray.StatusConnected,
		File:       &xray.SelectedFile{Name: "chest.png", MediaType: "image/png", Size: 10},
		Err:        &xray.BackendError{Status: 500, Body: "boom"},
		CanSubmit:  true,
	}
	text, kb := renderSnapshot(snap)
	if !strings.Contains(text, "HTTP error! status: 500, message: boom") {
		t.Errorf("text = %q", text)
	}
	if kb == nil || kb.InlineKeyboard[0][0].Text != "Try again" {
		t.Errorf("first button should offer a retry, got %+v", kb)
	}
}

func TestFormatHistory(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	rows := []store.PredictionRow{
		{CreatedAt: at, FileName: "a.png", Route: xray.RouteClassification, Predictions: []xray.Prediction{{Class: "Pneumonia", Probability: 87.3}}},
		{CreatedAt: at, FileName: "b.jpg", Route: xray.RouteDetection, ResultBytes: 5120},
	}
	got := formatHistory(rows)
	for _, want := range []string{"2026-03-01 09:30 · a.png", "Pneumonia 87.30%", "annotated image, 5120 bytes"} {
		if !strings.Contains(got, want) {
			t.Errorf("history missing %q:\n%s", want, got)
		}
	}
}
