package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"xray-bot/api/internal/xray"
)

func TestHashImage(t *testing.T) {
	// sha256("")
	const empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := HashImage(nil); got != empty {
		t.Errorf("HashImage(nil) = %s", got)
	}
	if HashImage([]byte("a")) == HashImage([]byte("b")) {
		t.Errorf("different images hash the same")
	}
}

func TestPurgeRejectsNonPositive(t *testing.T) {
	r := NewPredictionRepo(nil)
	if _, err := r.PurgeOlderThan(context.Background(), 0); err == nil {
		t.Errorf("expected error for zero duration")
	}
}

func newMockRepo(t *testing.T) (*PredictionRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPredictionRepo(db), mock
}

func TestEnsureSchema(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectExec(`create table if not exists predictions`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`create index if not exists predictions_chat_created_idx`).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := r.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestInsertClassification(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta(`values ($1,$2,$3,$4,$5,$6,$7,nullif($8,''))`)).
		WithArgs(int64(42), "req-1", "abc", "chest.png", "classification",
			[]byte(`[{"class":"Pneumonia","probability":87.3}]`), 0, "").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := r.Insert(context.Background(), PredictionRow{
		ChatID:      42,
		RequestID:   "req-1",
		ImageHash:   "abc",
		FileName:    "chest.png",
		Route:       xray.RouteClassification,
		Predictions: []xray.Prediction{{Class: "Pneumonia", Probability: 87.3}},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestInsertDetectionHasNoJSON(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectExec(`insert into predictions`).
		WithArgs(int64(7), "req-2", "def", "scan.jpg", "detection", nil, 5120, "originals/2026/03/01/req-2-scan.jpg").
		WillReturnResult(sqlmock.NewResult(2, 1))

	err := r.Insert(context.Background(), PredictionRow{
		ChatID:      7,
		RequestID:   "req-2",
		ImageHash:   "def",
		FileName:    "scan.jpg",
		Route:       xray.RouteDetection,
		ResultBytes: 5120,
		ArchiveKey:  "originals/2026/03/01/req-2-scan.jpg",
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRecent(t *testing.T) {
	r, mock := newMockRepo(t)
	newer := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	cols := []string{"id", "created_at", "chat_id", "request_id", "image_hash", "file_name", "route", "result_json", "result_bytes", "archive_key"}
	rows := sqlmock.NewRows(cols).
		AddRow(int64(2), newer, int64(42), "req-2", "h2", "b.jpg", "detection", nil, int64(5120), "results/b.png").
		AddRow(int64(1), older, int64(42), "req-1", "h1", "a.png", "classification",
			[]byte(`[{"class":"Pneumonia","probability":87.3},{"class":"Normal","probability":12.7}]`), int64(0), "")
	mock.ExpectQuery(regexp.QuoteMeta(`order by created_at desc`)).
		WithArgs(int64(42), 5).
		WillReturnRows(rows)

	got, err := r.Recent(context.Background(), 42, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || !got[0].CreatedAt.Equal(newer) || !got[1].CreatedAt.Equal(older) {
		t.Fatalf("rows = %+v", got)
	}
	if got[0].Route != xray.RouteDetection || got[0].ResultBytes != 5120 || got[0].Predictions != nil {
		t.Errorf("detection row = %+v", got[0])
	}
	p := got[1].Predictions
	if len(p) != 2 || p[0].Class != "Pneumonia" || p[0].Probability != 87.3 || p[1].Class != "Normal" {
		t.Errorf("predictions = %+v", p)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta(`delete from predictions where created_at < $1`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := r.PurgeOlderThan(context.Background(), 24*time.Hour)
	if err != nil || n != 3 {
		t.Fatalf("purged %d, err %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
