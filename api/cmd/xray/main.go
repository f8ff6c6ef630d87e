// Command xray sends one chest X-ray image to the inference backend and
// prints the classification table or saves the annotated image.
//
//	xray -mode classify chest.png
//	xray -mode detect -o result.png chest.png
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"xray-bot/api/internal/config"
	"xray-bot/api/internal/inference"
	"xray-bot/api/internal/logger"
	"xray-bot/api/internal/predict"
	"xray-bot/api/internal/session"
	"xray-bot/api/internal/xray"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := logger.New(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr, log))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, log *zap.Logger) int {
	fs := flag.NewFlagSet("xray", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		mode    = fs.String("mode", "detect", "workflow: detect | classify")
		out     = fs.String("o", xray.ResultFileName, "where to save the annotated image (detect)")
		backend = fs.String("backend", "", "backend base URL (overrides BACKEND_BASE_URL)")
		probe   = fs.Bool("probe", false, "only check that the backend is reachable")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if *backend != "" {
		cfg.Backend.BaseURL = strings.TrimRight(*backend, "/")
		err = nil
	}
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 2
	}

	client := inference.New(inference.Options{
		BaseURL:     cfg.Backend.BaseURL,
		HealthPath:  cfg.Backend.HealthPath,
		BypassName:  cfg.Backend.BypassName,
		BypassValue: cfg.Backend.BypassValue,
		Timeout:     cfg.Backend.Timeout,
	}, log)
	svc := predict.New(client, log)

	sess := session.New(nil)
	defer sess.Close()

	if *probe {
		st := svc.Probe(ctx, nil, sess)
		fmt.Fprintln(stdout, st)
		if st != xray.StatusConnected {
			return 1
		}
		return 0
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: xray [-mode detect|classify] [-o out.png] <image>")
		return 2
	}
	route, ok := xray.ParseRoute(*mode)
	if !ok {
		fmt.Fprintf(stderr, "unknown mode %q\n", *mode)
		return 2
	}
	_ = sess.SetRoute(route)

	file, err := readSelected(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := sess.Select(file); err != nil {
		fmt.Fprintln(stderr, xray.Message(err))
		return 1
	}

	if st := svc.Probe(ctx, nil, sess); st != xray.StatusConnected {
		fmt.Fprintln(stderr, xray.Message(xray.ErrUnreachable))
		return 1
	}

	res, err := svc.Run(ctx, sess, 0)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 130
		}
		fmt.Fprintln(stderr, predict.UserMessage(err))
		return 1
	}

	if !res.IsImage() {
		fmt.Fprintln(stdout, xray.FormatPredictions(res.Predictions))
		return 0
	}
	img, _, err := sess.Download()
	if err != nil {
		fmt.Fprintln(stderr, predict.UserMessage(err))
		return 1
	}
	if err := os.WriteFile(*out, img, 0o644); err != nil {
		fmt.Fprintln(stderr, "save result:", err)
		return 1
	}
	fmt.Fprintf(stdout, "saved %s (%d bytes)\n", *out, len(img))
	return 0
}

// readSelected берёт тип по расширению: это "заявленный" тип, как у браузера.
func readSelected(path string) (xray.SelectedFile, error) {
	st, err := os.Stat(path)
	if err != nil {
		return xray.SelectedFile{}, err
	}
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	meta := xray.SelectedFile{Name: filepath.Base(path), MediaType: mt, Size: st.Size()}
	// до чтения с диска: невалидный файл не читаем вовсе
	if err := xray.Validate(meta); err != nil {
		return meta, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return xray.SelectedFile{}, err
	}
	meta.Data = data
	return meta, nil
}
