package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"xray-bot/api/internal/predict"
	"xray-bot/api/internal/session"
	"xray-bot/api/internal/xray"
)

// Telegram всегда пережимает фото в JPEG.
const photoMediaType = "image/jpeg"

func (r *Router) acceptPhoto(ctx context.Context, msg *tgbotapi.Message) {
	// берём самое большое превью
	ph := msg.Photo[len(msg.Photo)-1]
	meta := xray.SelectedFile{
		Name:      fmt.Sprintf("photo_%d.jpg", msg.MessageID),
		MediaType: photoMediaType,
		Size:      int64(ph.FileSize),
	}
	r.selectFile(ctx, msg.Chat.ID, ph.FileID, meta)
}

func (r *Router) acceptDocument(ctx context.Context, msg *tgbotapi.Message) {
	doc := msg.Document
	meta := xray.SelectedFile{
		Name:      doc.FileName,
		MediaType: doc.MimeType,
		Size:      int64(doc.FileSize),
	}
	r.selectFile(ctx, msg.Chat.ID, doc.FileID, meta)
}

// selectFile валидирует заявленные тип и размер до скачивания: неподходящий
// файл не тянется ни из Telegram, ни тем более на бэкенд.
func (r *Router) selectFile(ctx context.Context, cid int64, fileID string, meta xray.SelectedFile) {
	sess := r.Sessions.Get(cid)

	if err := xray.Validate(meta); err != nil {
		if errors.Is(sess.Select(meta), session.ErrBusy) {
			r.send(cid, predict.UserMessage(session.ErrBusy))
			return
		}
		r.showStatus(cid, sess.Snapshot())
		return
	}

	data, err := r.fetchFile(ctx, fileID)
	if err != nil {
		r.log.Warn("telegram file download", zap.Int64("chat_id", cid), zap.Error(err))
		r.send(cid, "Could not download the file from Telegram: "+err.Error())
		return
	}
	if meta.Size == 0 {
		meta.Size = int64(len(data))
	}
	meta.Data = data

	if err := sess.Select(meta); err != nil {
		r.log.Info("file rejected", zap.Int64("chat_id", cid), zap.String("media_type", meta.MediaType), zap.Int64("size", meta.Size), zap.Error(err))
		if errors.Is(err, session.ErrBusy) {
			r.send(cid, predict.UserMessage(err))
			return
		}
		r.showStatus(cid, sess.Snapshot())
		return
	}
	r.log.Info("file selected", zap.Int64("chat_id", cid), zap.String("file", meta.Name), zap.Int64("size", meta.Size))
	r.showStatus(cid, sess.Snapshot())
}

func (r *Router) fetchFile(ctx context.Context, fileID string) ([]byte, error) {
	url, err := r.Bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	// на байт больше потолка, чтобы валидатор увидел превышение
	return io.ReadAll(io.LimitReader(resp.Body, xray.MaxFileSize+1))
}
