package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Checks — то, что показывает /healthz. DB может быть nil.
type Checks struct {
	Backend func() string
	DB      func(ctx context.Context) error
}

type Server struct {
	engine *gin.Engine
	srv    *http.Server
	log    *zap.Logger
}

func New(addr string, checks Checks, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine: engine,
		srv:    &http.Server{Addr: addr, Handler: engine, ReadHeaderTimeout: 10 * time.Second},
		log:    log,
	}
	engine.GET("/healthz", s.healthz(checks))
	engine.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "chest x-ray telegram bot")
	})
	return s
}

func (s *Server) healthz(checks Checks) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		code := http.StatusOK
		if checks.Backend != nil {
			body["backend"] = checks.Backend()
		}
		if checks.DB != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := checks.DB(ctx); err != nil {
				body["status"] = "degraded"
				body["db"] = err.Error()
				code = http.StatusServiceUnavailable
			} else {
				body["db"] = "ok"
			}
		}
		c.JSON(code, body)
	}
}

// HandleWebhook регистрирует секретный путь вебхука. fn вызывается синхронно,
// долгие операции она должна уводить в горутины сама.
func (s *Server) HandleWebhook(path string, fn func(tgbotapi.Update)) {
	s.engine.POST(path, func(c *gin.Context) {
		var upd tgbotapi.Update
		if err := c.ShouldBindJSON(&upd); err != nil {
			s.log.Warn("bad webhook payload", zap.Error(err))
			c.Status(http.StatusBadRequest)
			return
		}
		fn(upd)
		c.Status(http.StatusOK)
	})
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) Run() error {
	s.log.Info("http server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
