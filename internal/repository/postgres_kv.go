package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresKVStore はPostgreSQLを使用した論理キー・バリューストア。
// kv_entriesテーブルにJSONB値を、kv_countersテーブルにTTL付きカウンターを格納する。
type PostgresKVStore struct {
	db *sql.DB
}

// NewPostgresKVStore はPostgresKVStoreを生成する。
func NewPostgresKVStore(db *sql.DB) *PostgresKVStore {
	return &PostgresKVStore{db: db}
}

// Get は指定キーの値を取得する。見つからない場合は(nil, nil)を返す。
func (s *PostgresKVStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE key = $1`,
		key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kv entry: %w", err)
	}

	return json.RawMessage(value), nil
}

// Set は指定キーに値をUPSERTする。
func (s *PostgresKVStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_entries (key, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, []byte(value),
	)
	if err != nil {
		return fmt.Errorf("failed to set kv entry: %w", err)
	}
	return nil
}

// Delete は指定キーを削除する。キーが存在しなくてもエラーにしない。
func (s *PostgresKVStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE key = $1`,
		key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete kv entry: %w", err)
	}
	return nil
}

// ListKeys は指定プレフィックスを持つキーの一覧を返す。
func (s *PostgresKVStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv_entries WHERE key LIKE $1 || '%' ORDER BY key`,
		prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list kv keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan kv key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate kv keys: %w", err)
	}

	return keys, nil
}

// GetCounter は現在のカウント値とウィンドウの残り時間を返す。
// キーが存在しない、または期限切れの場合は(0, 0, nil)を返す。
func (s *PostgresKVStore) GetCounter(ctx context.Context, key string) (int, time.Duration, error) {
	var count int
	var remainingSec float64
	err := s.db.QueryRowContext(ctx,
		`SELECT count, GREATEST(EXTRACT(EPOCH FROM (expires_at - now())), 0)
		 FROM kv_counters WHERE key = $1`,
		key,
	).Scan(&count, &remainingSec)

	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get counter: %w", err)
	}

	// 期限切れはウィンドウ切れとして0扱い（削除はIncrementCounter側のリセットに任せる）
	if remainingSec <= 0 {
		return 0, 0, nil
	}

	return count, time.Duration(remainingSec * float64(time.Second)), nil
}

// IncrementCounter はカウンターをアトミックにインクリメントする。
// 期限切れ・未存在のカウンターは1から再スタートし、ウィンドウ満了時刻を設定する。
func (s *PostgresKVStore) IncrementCounter(ctx context.Context, key string, window time.Duration) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO kv_counters (key, count, expires_at)
		 VALUES ($1, 1, now() + $2 * interval '1 second')
		 ON CONFLICT (key) DO UPDATE SET
		   count = CASE WHEN kv_counters.expires_at <= now() THEN 1 ELSE kv_counters.count + 1 END,
		   expires_at = CASE WHEN kv_counters.expires_at <= now()
		                THEN now() + $2 * interval '1 second'
		                ELSE kv_counters.expires_at END
		 RETURNING count`,
		key, window.Seconds(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	return count, nil
}

// compile-time interface checks
var _ KVStore = (*PostgresKVStore)(nil)
var _ CounterStore = (*PostgresKVStore)(nil)
