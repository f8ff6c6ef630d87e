package telegram

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"xray-bot/api/internal/predict"
	"xray-bot/api/internal/session"
	"xray-bot/api/internal/xray"
)

func (r *Router) handleCallback(ctx context.Context, cb tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	cid := cb.Message.Chat.ID
	_, _ = r.Bot.Request(tgbotapi.NewCallback(cb.ID, "")) // ack

	sess := r.Sessions.Get(cid)
	switch cb.Data {
	case cbSubmit:
		r.onSubmit(ctx, cid, sess)
	case cbReset:
		sess.Reset()
		r.send(cid, "Cleared. Send a new X-ray image.")
	case cbDownload:
		r.sendDownload(cid, sess)
	case cbRetryConn:
		st := r.Predict.Probe(ctx, r.Sessions, sess)
		r.sendConnection(cid, st)
		if st == xray.StatusConnected && sess.CanSubmit() {
			r.showStatus(cid, sess.Snapshot())
		}
	case cbModeDetect:
		r.setMode(cid, sess, xray.RouteDetection)
	case cbModeClassify:
		r.setMode(cid, sess, xray.RouteClassification)
	}
}

// onSubmit запускает запрос в отдельной горутине, чтобы не блокировать другие чаты.
func (r *Router) onSubmit(ctx context.Context, cid int64, sess *session.Session) {
	if !sess.CanSubmit() {
		err := session.ErrSubmitDisabled
		if sess.State() == session.StateSubmitting {
			err = session.ErrBusy
		}
		r.send(cid, predict.UserMessage(err))
		return
	}
	r.send(cid, "⏳ Processing…")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runSubmit(ctx, cid, sess)
	}()
}

func (r *Router) runSubmit(ctx context.Context, cid int64, sess *session.Session) {
	res, err := r.Predict.Run(ctx, sess, cid)
	switch {
	case errors.Is(err, session.ErrStale):
		return
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrSubmitDisabled):
		r.send(cid, predict.UserMessage(err))
		return
	case err != nil:
		r.log.Info("submission failed", zap.Int64("chat_id", cid), zap.Error(err))
		r.showStatus(cid, sess.Snapshot())
		return
	}

	text, kb := renderSnapshot(sess.Snapshot())
	if res.IsImage() {
		photo := tgbotapi.NewPhoto(cid, tgbotapi.FileBytes{Name: xray.ResultFileName, Bytes: res.Image})
		photo.Caption = text
		if kb != nil {
			photo.ReplyMarkup = *kb
		}
		if _, err := r.Bot.Send(photo); err != nil {
			r.log.Warn("telegram send photo", zap.Int64("chat_id", cid), zap.Error(err))
		}
		return
	}

	out := xray.FormatPredictions(res.Predictions)
	if kb != nil {
		r.sendWithMarkup(cid, out, *kb)
	} else {
		r.send(cid, out)
	}
}

func (r *Router) sendDownload(cid int64, sess *session.Session) {
	img, name, err := sess.Download()
	if err != nil {
		r.send(cid, predict.UserMessage(err))
		return
	}
	doc := tgbotapi.NewDocument(cid, tgbotapi.FileBytes{Name: name, Bytes: img})
	if _, err := r.Bot.Send(doc); err != nil {
		r.log.Warn("telegram send document", zap.Int64("chat_id", cid), zap.Error(err))
		r.send(cid, "Failed to download image")
	}
}
