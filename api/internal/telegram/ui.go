package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"xray-bot/api/internal/predict"
	"xray-bot/api/internal/session"
	"xray-bot/api/internal/store"
	"xray-bot/api/internal/xray"
)

const (
	cbSubmit       = "submit"
	cbReset        = "reset"
	cbDownload     = "download"
	cbRetryConn    = "retry_conn"
	cbModeDetect   = "mode_detect"
	cbModeClassify = "mode_classify"
)

const startText = "Send a chest X-ray image (JPG, JPEG or PNG, up to 10MB).\n" +
	"Detection returns the annotated image, classification returns class probabilities.\n" +
	"Commands: /mode, /health, /reset, /download, /history\n\n" +
	"For educational and research purposes only, not a medical diagnosis."

func modeKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Detection", cbModeDetect),
		tgbotapi.NewInlineKeyboardButtonData("Classification", cbModeClassify),
	))
}

func retryKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Retry connection", cbRetryConn),
	))
}

// renderSnapshot: кнопка отправки появляется только когда сессия её разрешает.
func renderSnapshot(snap session.Snapshot) (string, *tgbotapi.InlineKeyboardMarkup) {
	var b strings.Builder
	var row []tgbotapi.InlineKeyboardButton

	switch snap.State {
	case session.StateIdle:
		b.WriteString("Send a chest X-ray image. Mode: " + modeName(snap.Route))
	case session.StateFileSelected:
		fmt.Fprintf(&b, "📎 %s (%s)\nMode: %s", snap.File.Name, sizeMB(snap.File.Size), modeName(snap.Route))
	case session.StateSubmitting:
		b.WriteString("⏳ Processing…")
	case session.StateResultReady:
		b.WriteString("✅ Result is ready.")
		if snap.Result != nil && snap.Result.IsImage() {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("Download", cbDownload))
		}
	case session.StateError:
		b.WriteString("⚠️ " + predict.UserMessage(snap.Err))
	}

	if snap.CanSubmit {
		label := "Analyze X-ray"
		if snap.State == session.StateError {
			label = "Try again"
		}
		row = append([]tgbotapi.InlineKeyboardButton{tgbotapi.NewInlineKeyboardButtonData(label, cbSubmit)}, row...)
	}
	if snap.File != nil && snap.State != session.StateSubmitting {
		switch snap.Connection {
		case xray.StatusChecking:
			b.WriteString("\n⏳ Checking backend connection…")
		case xray.StatusFailed:
			b.WriteString("\n❌ Backend is not reachable.")
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("Retry connection", cbRetryConn))
		}
	}
	if snap.State != session.StateIdle && snap.State != session.StateSubmitting {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("Reset", cbReset))
	}

	if len(row) == 0 {
		return b.String(), nil
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(row)
	return b.String(), &kb
}

func formatHistory(rows []store.PredictionRow) string {
	var b strings.Builder
	b.WriteString("Recent predictions:\n")
	for _, row := range rows {
		fmt.Fprintf(&b, "\n%s · %s · %s\n", row.CreatedAt.Format("2006-01-02 15:04"), row.FileName, modeName(row.Route))
		if len(row.Predictions) > 0 {
			top := row.Predictions[0]
			fmt.Fprintf(&b, "  %s %s\n", top.Class, xray.FormatProbability(top.Probability))
		} else if row.ResultBytes > 0 {
			fmt.Fprintf(&b, "  annotated image, %d bytes\n", row.ResultBytes)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
