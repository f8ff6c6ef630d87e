package predict

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"xray-bot/api/internal/inference"
	"xray-bot/api/internal/session"
	"xray-bot/api/internal/store"
	"xray-bot/api/internal/xray"
)

type memHistory struct {
	mu   sync.Mutex
	rows []store.PredictionRow
}

func (h *memHistory) Insert(_ context.Context, row store.PredictionRow) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rows = append(h.rows, row)
	return nil
}

type memArchive struct {
	mu   sync.Mutex
	keys []string
	fail bool
}

func (a *memArchive) Put(_ context.Context, key string, _ []byte, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return errors.New("bucket gone")
	}
	a.keys = append(a.keys, key)
	return nil
}

func backend(t *testing.T, h http.HandlerFunc) *inference.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return inference.New(inference.Options{BaseURL: srv.URL, BypassName: "ngrok-skip-browser-warning", BypassValue: "true", Timeout: 5 * time.Second}, nil)
}

func chestPNG() xray.SelectedFile {
	data := bytes.Repeat([]byte{7}, 1200*1024)
	return xray.SelectedFile{Name: "chest.png", MediaType: "image/png", Size: int64(len(data)), Data: data}
}

func TestClassificationScenario(t *testing.T) {
	client := backend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict_classification" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"predictions":[{"class":"Pneumonia","probability":87.3},{"class":"Normal","probability":12.7}]}`)
	})
	hist := &memHistory{}
	svc := New(client, nil)
	svc.History = hist

	sess := session.New(nil)
	sess.SetConnection(xray.StatusConnected)

	if err := sess.Select(chestPNG()); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := sess.SetRoute(xray.RouteClassification); err != nil {
		t.Fatal(err)
	}
	res, err := svc.Run(context.Background(), sess, 42)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sess.State() != session.StateResultReady {
		t.Fatalf("state = %s", sess.State())
	}
	lines := strings.Split(xray.FormatPredictions(res.Predictions), "\n")
	if !strings.Contains(lines[0], "Pneumonia") || !strings.Contains(lines[0], "87.30%") {
		t.Errorf("first line = %q", lines[0])
	}
	if len(hist.rows) != 1 || hist.rows[0].ChatID != 42 || hist.rows[0].Route != xray.RouteClassification || len(hist.rows[0].Predictions) != 2 {
		t.Errorf("history = %+v", hist.rows)
	}
}

func TestDetectionArchived(t *testing.T) {
	img := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	client := backend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	})
	arch := &memArchive{}
	hist := &memHistory{}
	svc := New(client, nil)
	svc.History = hist
	svc.Archive = arch

	sess := session.New(nil)
	sess.SetConnection(xray.StatusConnected)
	_ = sess.Select(chestPNG())
	res, err := svc.Run(context.Background(), sess, 7)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !bytes.Equal(res.Image, img) {
		t.Errorf("image mismatch")
	}
	if len(arch.keys) != 2 || !strings.HasPrefix(arch.keys[0], "originals/") || !strings.HasPrefix(arch.keys[1], "results/") {
		t.Errorf("archive keys = %v", arch.keys)
	}
	if len(hist.rows) != 1 || hist.rows[0].ArchiveKey != arch.keys[1] || hist.rows[0].ResultBytes != len(img) {
		t.Errorf("history = %+v", hist.rows)
	}
}

func TestArchiveFailureDoesNotFailRun(t *testing.T) {
	client := backend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{1})
	})
	svc := New(client, nil)
	svc.Archive = &memArchive{fail: true}
	hist := &memHistory{}
	svc.History = hist

	sess := session.New(nil)
	sess.SetConnection(xray.StatusConnected)
	_ = sess.Select(chestPNG())
	if _, err := svc.Run(context.Background(), sess, 1); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(hist.rows) != 1 || hist.rows[0].ArchiveKey != "" {
		t.Errorf("history = %+v", hist.rows)
	}
}

func TestRunBackendError(t *testing.T) {
	client := backend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "boom")
	})
	svc := New(client, nil)
	sess := session.New(nil)
	sess.SetConnection(xray.StatusConnected)
	_ = sess.Select(chestPNG())

	_, err := svc.Run(context.Background(), sess, 1)
	var be *xray.BackendError
	if !errors.As(err, &be) || be.Status != 500 || be.Body != "boom" {
		t.Fatalf("got %v", err)
	}
	snap := sess.Snapshot()
	if snap.State != session.StateError || snap.File == nil {
		t.Errorf("snapshot = %+v", snap)
	}
	if got := UserMessage(err); got != "HTTP error! status: 500, message: boom" {
		t.Errorf("UserMessage = %q", got)
	}
}

func TestRunDisabled(t *testing.T) {
	svc := New(backend(t, func(http.ResponseWriter, *http.Request) {
		t.Errorf("backend must not be called")
	}), nil)
	sess := session.New(nil) // connection still checking
	_ = sess.Select(chestPNG())
	_, err := svc.Run(context.Background(), sess, 1)
	if !errors.Is(err, session.ErrSubmitDisabled) {
		t.Fatalf("got %v", err)
	}
	if sess.State() != session.StateFileSelected {
		t.Errorf("state = %s", sess.State())
	}
}

func TestProbeBroadcast(t *testing.T) {
	svc := New(backend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "offline", http.StatusBadGateway)
	}), nil)
	reg := session.NewRegistry(nil)
	a, b := reg.Get(1), reg.Get(2)
	a.SetConnection(xray.StatusConnected)
	if st := svc.Probe(context.Background(), reg, nil); st != xray.StatusFailed {
		t.Fatalf("probe = %s", st)
	}
	if a.Connection() != xray.StatusFailed || b.Connection() != xray.StatusFailed {
		t.Errorf("status not broadcast")
	}
}
