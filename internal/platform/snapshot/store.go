package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"AVES-backend/internal/platform/db"
)

// キー付きJSONブロブの永続化層。
// クラス・セッション・出席記録などのエンティティを key 単位で丸ごと保存／復元する。
// key の形式: "class/<id>", "session/<id>", "record/<id>", "summary/<student_id>", "enroll/<class_id>"

var ErrNotFound = errors.New("snapshot not found")

type Store struct{ db *sql.DB }

func NewStore(conn *sql.DB) *Store { return &Store{db: conn} }

// Save: INSERT ... ON DUPLICATE KEY UPDATE で upsert（既存キーは上書き）
func (s *Store) Save(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("snapshot marshal (%s): %w", key, err)
	}
	const q = `
	INSERT INTO snapshots (snapshot_key, body, updated_at)
	VALUES (?, ?, UTC_TIMESTAMP(6))
	ON DUPLICATE KEY UPDATE
	body       = VALUES(body),
	updated_at = VALUES(updated_at)`
	_, err = s.db.ExecContext(ctx, q, key, body)
	return err
}

func (s *Store) Load(ctx context.Context, key string, v any) error {
	const q = `SELECT body FROM snapshots WHERE snapshot_key = ? LIMIT 1`
	var body []byte
	err := s.db.QueryRowContext(ctx, q, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE snapshot_key = ?`, key)
	return err
}

// LoadPrefix: 指定プレフィックス配下を全件取得（起動時の復元用）。
// 読み取り専用Txでまとめて読む。
func (s *Store) LoadPrefix(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	out := make(map[string]json.RawMessage)
	err := db.ReadOnly(ctx, s.db, func(ctx context.Context, tx db.DBTX) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT snapshot_key, body FROM snapshots WHERE snapshot_key LIKE CONCAT(?, '%')`, prefix)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var k string
			var body []byte
			if err := rows.Scan(&k, &body); err != nil {
				return err
			}
			out[k] = json.RawMessage(body)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
