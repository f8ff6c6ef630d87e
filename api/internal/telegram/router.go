package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"xray-bot/api/internal/predict"
	"xray-bot/api/internal/session"
	"xray-bot/api/internal/store"
	"xray-bot/api/internal/xray"
)

// BotAPI — подмножество *tgbotapi.BotAPI, которым пользуется роутер.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

type HistoryReader interface {
	Recent(ctx context.Context, chatID int64, limit int) ([]store.PredictionRow, error)
}

// Router maps Telegram updates onto per-chat sessions. Each chat is one page
// of the original client.
type Router struct {
	Bot      BotAPI
	Sessions *session.Registry
	Predict  *predict.Service
	History  HistoryReader // nil — история выключена

	log   *zap.Logger
	httpc *http.Client
	wg    sync.WaitGroup
}

func NewRouter(bot BotAPI, sessions *session.Registry, svc *predict.Service, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		Bot:      bot,
		Sessions: sessions,
		Predict:  svc,
		log:      log,
		httpc:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Wait blocks until background submissions finish.
func (r *Router) Wait() { r.wg.Wait() }

func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	// callback-кнопки
	if upd.CallbackQuery != nil {
		r.handleCallback(ctx, *upd.CallbackQuery)
		return
	}
	if upd.Message == nil || upd.Message.Chat == nil {
		return
	}
	msg := upd.Message
	cid := msg.Chat.ID

	switch {
	case msg.IsCommand():
		r.HandleCommand(ctx, msg)
	case len(msg.Photo) > 0:
		r.acceptPhoto(ctx, msg)
	case msg.Document != nil:
		r.acceptDocument(ctx, msg)
	default:
		r.send(cid, "Send a chest X-ray image (JPG, JPEG or PNG). Commands: /mode, /health, /reset")
	}
}

func (r *Router) HandleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	sess := r.Sessions.Get(cid)

	switch msg.Command() {
	case "start", "help":
		r.send(cid, startText)
		r.showStatus(cid, sess.Snapshot())
	case "health":
		st := r.Predict.Probe(ctx, r.Sessions, sess)
		r.sendConnection(cid, st)
	case "mode":
		arg := strings.TrimSpace(msg.CommandArguments())
		if arg == "" {
			r.sendWithMarkup(cid, "Current mode: "+modeName(sess.Route())+"\nChoose a workflow:", modeKeyboard())
			return
		}
		route, ok := xray.ParseRoute(arg)
		if !ok {
			r.send(cid, "Unknown mode. Use /mode detect or /mode classify")
			return
		}
		r.setMode(cid, sess, route)
	case "reset":
		sess.Reset()
		r.send(cid, "Cleared. Send a new X-ray image.")
	case "download":
		r.sendDownload(cid, sess)
	case "history":
		r.sendHistory(ctx, cid)
	default:
		r.send(cid, "Unknown command")
	}
}

func (r *Router) setMode(cid int64, sess *session.Session, route xray.Route) {
	if err := sess.SetRoute(route); err != nil {
		r.send(cid, predict.UserMessage(err))
		return
	}
	r.send(cid, "✅ Mode: "+modeName(route))
	r.showStatus(cid, sess.Snapshot())
}

func (r *Router) sendHistory(ctx context.Context, cid int64) {
	if r.History == nil {
		r.send(cid, "History is not enabled on this bot.")
		return
	}
	rows, err := r.History.Recent(ctx, cid, 5)
	if err != nil {
		r.log.Warn("history read", zap.Int64("chat_id", cid), zap.Error(err))
		r.send(cid, "Could not load history.")
		return
	}
	if len(rows) == 0 {
		r.send(cid, "No predictions yet.")
		return
	}
	r.send(cid, formatHistory(rows))
}

func (r *Router) send(chatID int64, text string) {
	r.sendWithMarkup(chatID, text, nil)
}

func (r *Router) sendWithMarkup(chatID int64, text string, markup any) {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := r.Bot.Send(msg); err != nil {
		r.log.Warn("telegram send", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (r *Router) sendConnection(chatID int64, st xray.ConnectionStatus) {
	switch st {
	case xray.StatusConnected:
		r.send(chatID, "✅ Backend is accessible")
	case xray.StatusFailed:
		r.sendWithMarkup(chatID, "❌ Backend is not reachable. Check that it is running and try again.", retryKeyboard())
	default:
		r.send(chatID, "⏳ Checking backend connection…")
	}
}

// showStatus рендерит текущее состояние сессии с доступными кнопками.
func (r *Router) showStatus(chatID int64, snap session.Snapshot) {
	text, kb := renderSnapshot(snap)
	if kb == nil {
		r.send(chatID, text)
		return
	}
	r.sendWithMarkup(chatID, text, *kb)
}

func modeName(route xray.Route) string {
	if route == xray.RouteClassification {
		return "classification"
	}
	return "detection"
}

func sizeMB(n int64) string {
	return fmt.Sprintf("%.2f MB", float64(n)/1024/1024)
}
