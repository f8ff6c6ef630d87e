package inference

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"

	"go.uber.org/zap"

	"xray-bot/api/internal/xray"
)

// ProbeConnection reports whether the backend is reachable. When a health path
// is configured it is tried first; otherwise, or when it fails, a full
// detection round trip with a 1x1 white PNG is made, since the backend has no
// dedicated liveness route.
func (c *Client) ProbeConnection(ctx context.Context) (xray.ConnectionStatus, error) {
	if c.HealthPath != "" {
		err := c.ping(ctx)
		if err == nil {
			return xray.StatusConnected, nil
		}
		if ctx.Err() != nil {
			return xray.StatusFailed, ctx.Err()
		}
		c.log.Warn("health ping failed, falling back to probe image", zap.Error(err))
	}

	img, err := probeImage()
	if err != nil {
		return xray.StatusFailed, fmt.Errorf("probe image: %w", err)
	}
	req, err := c.uploadRequest(ctx, xray.SelectedFile{
		Name:      "test.png",
		MediaType: "image/png",
		Size:      int64(len(img)),
		Data:      img,
	}, xray.RouteDetection)
	if err != nil {
		return xray.StatusFailed, err
	}
	// тело ответа не разбираем: важен только статус
	if err := c.statusOnly(ctx, req); err != nil {
		c.log.Warn("connection probe failed", zap.Error(err))
		return xray.StatusFailed, err
	}
	return xray.StatusConnected, nil
}

func (c *Client) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+c.HealthPath, nil)
	if err != nil {
		return err
	}
	c.setBypass(req)
	return c.statusOnly(ctx, req)
}

// statusOnly sends req, drains the body and maps the outcome on the status code.
func (c *Client) statusOnly(ctx context.Context, req *http.Request) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &xray.UnreachableError{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &xray.BackendError{Status: resp.StatusCode}
	}
	return nil
}

func probeImage() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.White)
	var out bytes.Buffer
	if err := png.Encode(&out, img); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
