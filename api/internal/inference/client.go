package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"xray-bot/api/internal/xray"
)

const (
	// поле multipart, которое ждёт бэкенд
	fileField = "file"

	maxErrorBody    = 1 << 20
	maxResponseBody = 64 << 20
)

type Options struct {
	BaseURL     string
	HealthPath  string
	BypassName  string
	BypassValue string
	Timeout     time.Duration
}

// Client talks to the X-ray inference backend. It is safe for concurrent use.
type Client struct {
	BaseURL     string
	HealthPath  string
	BypassName  string
	BypassValue string

	httpc *http.Client
	log   *zap.Logger
}

func New(opt Options, log *zap.Logger) *Client {
	if opt.Timeout <= 0 {
		opt.Timeout = 120 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		BaseURL:     strings.TrimRight(opt.BaseURL, "/"),
		HealthPath:  opt.HealthPath,
		BypassName:  opt.BypassName,
		BypassValue: opt.BypassValue,
		httpc:       &http.Client{Timeout: opt.Timeout},
		log:         log,
	}
}

// Submit uploads file to route and returns either the processed image or the
// prediction list. Non-2xx answers become *xray.BackendError, transport
// failures match xray.ErrUnreachable. Context cancellation is returned as is.
func (c *Client) Submit(ctx context.Context, file xray.SelectedFile, route xray.Route) (xray.Result, error) {
	reqID := RequestID(ctx)
	log := c.log.With(
		zap.String("request_id", reqID),
		zap.String("route", string(route)),
		zap.String("file", file.Name),
		zap.Int64("size", file.Size),
	)

	req, err := c.uploadRequest(ctx, file, route)
	if err != nil {
		return xray.Result{}, err
	}

	start := time.Now()
	log.Info("inference request", zap.String("url", req.URL.String()))
	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return xray.Result{}, ctxErr
		}
		log.Warn("inference transport error", zap.Error(err))
		return xray.Result{}, &xray.UnreachableError{Err: err}
	}
	defer resp.Body.Close()

	log = log.With(zap.Int("status", resp.StatusCode), zap.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.Warn("inference backend error", zap.String("body", string(b)))
		return xray.Result{}, &xray.BackendError{Status: resp.StatusCode, Body: string(b)}
	}

	res, err := decodeResult(resp, route)
	if err != nil {
		log.Warn("inference decode error", zap.Error(err))
		return xray.Result{}, err
	}
	if res.IsImage() {
		log.Info("inference image", zap.String("content_type", res.ContentType), zap.Int("bytes", len(res.Image)))
	} else {
		log.Info("inference predictions", zap.Int("count", len(res.Predictions)))
	}
	return res, nil
}

// uploadRequest builds the multipart POST with the bypass header; nothing else
// is added to the request.
func (c *Client) uploadRequest(ctx context.Context, file xray.SelectedFile, route xray.Route) (*http.Request, error) {
	body, contentType, err := multipartBody(file)
	if err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+route.Path(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	c.setBypass(req)
	return req, nil
}

func (c *Client) setBypass(req *http.Request) {
	if c.BypassName != "" {
		req.Header.Set(c.BypassName, c.BypassValue)
	}
}

func decodeResult(resp *http.Response, route xray.Route) (xray.Result, error) {
	ct := resp.Header.Get("Content-Type")
	mt, _, _ := mime.ParseMediaType(ct)
	mt = strings.ToLower(mt)

	switch {
	case strings.HasPrefix(mt, "image/"):
		return readImage(resp.Body, ct)
	case mt == "application/json" || strings.HasSuffix(mt, "+json"):
		return readPredictions(resp.Body)
	case route == xray.RouteClassification:
		return readPredictions(resp.Body)
	default:
		// detection стримит PNG, даже если заголовок потерялся по дороге
		return readImage(resp.Body, "")
	}
}

func readImage(r io.Reader, ct string) (xray.Result, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxResponseBody))
	if err != nil {
		return xray.Result{}, fmt.Errorf("read image: %w", err)
	}
	if ct == "" {
		ct = http.DetectContentType(b)
	}
	return xray.Result{Image: b, ContentType: ct}, nil
}

func readPredictions(r io.Reader) (xray.Result, error) {
	var out xray.ClassificationResponse
	if err := json.NewDecoder(io.LimitReader(r, maxResponseBody)).Decode(&out); err != nil {
		return xray.Result{}, fmt.Errorf("decode predictions: %w", err)
	}
	if out.Predictions == nil {
		out.Predictions = []xray.Prediction{}
	}
	return xray.Result{Predictions: out.Predictions}, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func multipartBody(file xray.SelectedFile) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	name := file.Name
	if name == "" {
		name = "upload"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, fileField, quoteEscaper.Replace(name)))
	mt := file.MediaType
	if mt == "" {
		mt = "application/octet-stream"
	}
	h.Set("Content-Type", mt)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

type requestIDKey struct{}

// WithRequestID привязывает id запроса к ctx, чтобы логи, история и архив совпадали.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id bound to ctx or a fresh one.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
