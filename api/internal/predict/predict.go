package predict

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"xray-bot/api/internal/archive"
	"xray-bot/api/internal/inference"
	"xray-bot/api/internal/session"
	"xray-bot/api/internal/store"
	"xray-bot/api/internal/xray"
)

// Backend — то, что нужно от inference.Client.
type Backend interface {
	Submit(ctx context.Context, file xray.SelectedFile, route xray.Route) (xray.Result, error)
	ProbeConnection(ctx context.Context) (xray.ConnectionStatus, error)
}

type History interface {
	Insert(ctx context.Context, row store.PredictionRow) error
}

type Archiver interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Service drives one submission through a session and records it.
// History and Archive are optional.
type Service struct {
	Backend Backend
	History History
	Archive Archiver

	log *zap.Logger
	now func() time.Time
}

func New(b Backend, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{Backend: b, log: log, now: time.Now}
}

// Run submits the session's selected file. The session ends in resultReady
// or error; the returned error is the one the user should see.
func (s *Service) Run(ctx context.Context, sess *session.Session, chatID int64) (xray.Result, error) {
	file, route, err := sess.Submit()
	if err != nil {
		return xray.Result{}, err
	}

	reqID := uuid.NewString()
	ctx = inference.WithRequestID(ctx, reqID)

	res, err := s.Backend.Submit(ctx, file, route)
	if err != nil {
		if ferr := sess.Fail(err); ferr != nil {
			s.log.Debug("failure after session moved on", zap.Error(ferr))
		}
		return xray.Result{}, err
	}
	if err := sess.Succeed(res); err != nil {
		// сессию сбросили во время запроса, результат никому не нужен
		return xray.Result{}, err
	}

	s.record(ctx, reqID, chatID, file, route, res)
	return res, nil
}

// Probe re-derives the connection status; every session in reg (when given)
// and sess (when given) receive it.
func (s *Service) Probe(ctx context.Context, reg *session.Registry, sess *session.Session) xray.ConnectionStatus {
	if sess != nil {
		sess.SetConnection(xray.StatusChecking)
	}
	st, err := s.Backend.ProbeConnection(ctx)
	if err != nil {
		s.log.Warn("backend probe", zap.String("status", string(st)), zap.Error(err))
	} else {
		s.log.Info("backend probe", zap.String("status", string(st)))
	}
	if reg != nil {
		reg.Broadcast(st)
	}
	if sess != nil {
		sess.SetConnection(st)
	}
	return st
}

// record пишет историю и архив; ошибки только логируются.
func (s *Service) record(ctx context.Context, reqID string, chatID int64, file xray.SelectedFile, route xray.Route, res xray.Result) {
	if s.History == nil && s.Archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	log := s.log.With(zap.String("request_id", reqID), zap.Int64("chat_id", chatID))
	at := s.now()

	var archiveKey string
	if s.Archive != nil {
		origKey := archive.OriginalKey(at, reqID, file.Name)
		origErr := s.Archive.Put(ctx, origKey, file.Data, file.MediaType)
		if origErr != nil {
			log.Warn("archive original", zap.Error(origErr))
		}
		switch {
		case res.IsImage():
			key := archive.ResultKey(at, reqID, res.ContentType)
			if err := s.Archive.Put(ctx, key, res.Image, res.ContentType); err != nil {
				log.Warn("archive result", zap.Error(err))
			} else {
				archiveKey = key
			}
		case origErr == nil:
			archiveKey = origKey
		}
	}

	if s.History != nil {
		row := store.PredictionRow{
			ChatID:      chatID,
			RequestID:   reqID,
			ImageHash:   store.HashImage(file.Data),
			FileName:    file.Name,
			Route:       route,
			Predictions: res.Predictions,
			ResultBytes: len(res.Image),
			ArchiveKey:  archiveKey,
		}
		if err := s.History.Insert(ctx, row); err != nil {
			log.Warn("history insert", zap.Error(err))
		}
	}
}

// UserMessage — текст ошибки для пользователя, включая ошибки сессии.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrBusy):
		return "Please wait, the previous image is still being processed."
	case errors.Is(err, session.ErrSubmitDisabled):
		return "Select an image and wait for the backend connection before submitting."
	case errors.Is(err, session.ErrNoImage):
		return "There is no result image to download yet."
	default:
		return xray.Message(err)
	}
}
