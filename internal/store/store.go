// Package store 持久化运行结果备忘：相同输入 + 相同阶段配置 → 直接复用上次输出。
// 默认后端为 sqlite（modernc.org/sqlite，纯 Go），DSN 以 postgres:// 开头时使用 pgx。
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	_ "modernc.org/sqlite"
)

// Store 为并发安全的结果缓存。
type Store struct {
	db      *sql.DB
	dialect dialect
	clk     func() time.Time
}

// Entry 为一条缓存记录。
type Entry struct {
	Key       string
	Profile   string
	Output    string
	CreatedAt time.Time
}

type dialect struct {
	driver string
	schema string
	get    string
	put    string
	purge  string
}

var sqliteDialect = dialect{
	driver: "sqlite",
	schema: `
CREATE TABLE IF NOT EXISTS humanize_cache (
    cache_key TEXT PRIMARY KEY,
    profile TEXT NOT NULL,
    output TEXT NOT NULL,
    created_at INTEGER NOT NULL
);`,
	get: `SELECT profile, output, created_at FROM humanize_cache WHERE cache_key = ?`,
	put: `
INSERT INTO humanize_cache(cache_key, profile, output, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (cache_key) DO UPDATE SET profile=excluded.profile, output=excluded.output, created_at=excluded.created_at`,
	purge: `DELETE FROM humanize_cache WHERE created_at < ?`,
}

var pgDialect = dialect{
	driver: "pgx",
	schema: `
create table if not exists humanize_cache (
    cache_key text primary key,
    profile text not null,
    output text not null,
    created_at bigint not null
);`,
	get: `select profile, output, created_at from humanize_cache where cache_key=$1`,
	put: `
insert into humanize_cache(cache_key, profile, output, created_at)
values ($1,$2,$3,$4)
on conflict (cache_key)
do update set profile=excluded.profile, output=excluded.output, created_at=excluded.created_at`,
	purge: `delete from humanize_cache where created_at < $1`,
}

// Open 按 DSN 选择后端并建表。
//   - postgres://… / postgresql://… → pgx
//   - sqlite:<path> 或普通文件路径 → sqlite（父目录自动创建）
func Open(ctx context.Context, dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("store: empty dsn")
	}
	d := sqliteDialect
	src := dsn
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		d = pgDialect
	default:
		src = strings.TrimPrefix(dsn, "sqlite:")
		if src != ":memory:" {
			if dir := filepath.Dir(src); dir != "" && dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("store: mkdir: %w", err)
				}
			}
		}
	}
	db, err := sql.Open(d.driver, src)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", d.driver, err)
	}
	if d.driver == "sqlite" {
		// 单连接串行化写入，避免 SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db, dialect: d, clk: time.Now}, nil
}

// Driver 返回底层驱动名（sqlite|pgx）。
func (s *Store) Driver() string { return s.dialect.driver }

// Close 释放连接。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Key 计算缓存键：sha256(fingerprint NUL input)。
func Key(input, fingerprint string) string {
	h := sha256.New()
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})
	h.Write([]byte(input))
	return hex.EncodeToString(h.Sum(nil))
}

// Get 查找缓存；未命中返回 ok=false。maxAge>0 时过期记录视为未命中。
func (s *Store) Get(ctx context.Context, key string, maxAge time.Duration) (Entry, bool, error) {
	var (
		e  = Entry{Key: key}
		ts int64
	)
	err := s.db.QueryRowContext(ctx, s.dialect.get, key).Scan(&e.Profile, &e.Output, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("store: get: %w", err)
	}
	e.CreatedAt = time.Unix(ts, 0).UTC()
	if maxAge > 0 && s.clk().Sub(e.CreatedAt) > maxAge {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Put 写入或覆盖一条记录。
func (s *Store) Put(ctx context.Context, key, profile, output string) error {
	if key == "" {
		return errors.New("store: empty key")
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.put, key, profile, output, s.clk().Unix()); err != nil {
		return fmt.Errorf("store: put: %w", err)
	}
	return nil
}

// Purge 删除早于 olderThan 的记录，返回删除条数。
func (s *Store) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	cut := s.clk().Add(-olderThan).Unix()
	res, err := s.db.ExecContext(ctx, s.dialect.purge, cut)
	if err != nil {
		return 0, fmt.Errorf("store: purge: %w", err)
	}
	return res.RowsAffected()
}
