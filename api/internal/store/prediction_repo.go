package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"xray-bot/api/internal/xray"
)

type PredictionRepo struct{ DB *sql.DB }

func NewPredictionRepo(db *sql.DB) *PredictionRepo { return &PredictionRepo{DB: db} }

// PredictionRow — одна завершённая отправка.
type PredictionRow struct {
	ID          int64
	CreatedAt   time.Time
	ChatID      int64
	RequestID   string
	ImageHash   string
	FileName    string
	Route       xray.Route
	Predictions []xray.Prediction
	ResultBytes int
	ArchiveKey  string
}

var schema = []string{`
create table if not exists predictions (
  id           bigserial primary key,
  created_at   timestamptz not null default now(),
  chat_id      bigint,
  request_id   text not null,
  image_hash   text not null,
  file_name    text not null default '',
  route        text not null,
  result_json  jsonb,
  result_bytes integer not null default 0,
  archive_key  text
)`,
	`create index if not exists predictions_chat_created_idx on predictions (chat_id, created_at desc)`,
}

// EnsureSchema создаёт таблицу, если её нет.
func (r *PredictionRepo) EnsureSchema(ctx context.Context) error {
	for _, q := range schema {
		if _, err := r.DB.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Insert сохраняет результат. Для detection пишется только размер картинки.
func (r *PredictionRepo) Insert(ctx context.Context, row PredictionRow) error {
	var js any // NULL для detection
	if row.Predictions != nil {
		b, err := json.Marshal(row.Predictions)
		if err != nil {
			return err
		}
		js = b
	}
	const q = `
insert into predictions (chat_id, request_id, image_hash, file_name, route, result_json, result_bytes, archive_key)
values ($1,$2,$3,$4,$5,$6,$7,nullif($8,''))`
	_, err := r.DB.ExecContext(ctx, q,
		row.ChatID, row.RequestID, row.ImageHash, row.FileName, string(row.Route), js, row.ResultBytes, row.ArchiveKey,
	)
	return err
}

// Recent возвращает последние limit записей чата, свежие первыми.
func (r *PredictionRepo) Recent(ctx context.Context, chatID int64, limit int) ([]PredictionRow, error) {
	if limit <= 0 {
		limit = 5
	}
	const q = `
select id, created_at, coalesce(chat_id,0), request_id, image_hash, file_name, route,
       result_json, result_bytes, coalesce(archive_key,'')
from predictions
where chat_id = $1
order by created_at desc
limit $2`
	rows, err := r.DB.QueryContext(ctx, q, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PredictionRow
	for rows.Next() {
		var (
			row   PredictionRow
			route string
			js    []byte
		)
		if err := rows.Scan(&row.ID, &row.CreatedAt, &row.ChatID, &row.RequestID, &row.ImageHash,
			&row.FileName, &route, &js, &row.ResultBytes, &row.ArchiveKey); err != nil {
			return nil, err
		}
		row.Route = xray.Route(route)
		if len(js) > 0 {
			// битый JSON не валит историю
			_ = json.Unmarshal(js, &row.Predictions)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// PurgeOlderThan удаляет старые записи, чтобы не раздувать БД.
func (r *PredictionRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().Add(-olderThan)
	const q = `delete from predictions where created_at < $1`
	res, err := r.DB.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}

// HashImage — sha256 исходных байт, hex.
func HashImage(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
