package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiGarment/internal/config"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("ログ初期化に失敗しました:", err)
	}
	defer logger.Sync()

	logger.Info("zaiGarment マイグレーション実行ツール")

	// 設定読み込み
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("設定読み込みに失敗しました", zap.Error(err))
	}

	logger.Info("データベースに接続中",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("dbname", cfg.Database.DBName),
	)

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		logger.Fatal("データベース接続に失敗しました", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("データベースpingに失敗しました", zap.Error(err))
	}

	// マイグレーションディレクトリの確認
	migrationDir := "migrations"
	if len(os.Args) > 1 {
		migrationDir = os.Args[1]
	}
	if _, err := os.Stat(migrationDir); os.IsNotExist(err) {
		logger.Fatal("マイグレーションディレクトリが見つかりません", zap.String("dir", migrationDir))
	}

	m := &migrator{db: db, logger: logger}
	applied, err := m.Run(ctx, migrationDir)
	if err != nil {
		logger.Fatal("マイグレーション実行に失敗しました", zap.Error(err))
	}

	logger.Info("すべてのマイグレーションが完了しました", zap.Int("applied", applied))
}

// migrator applies *.sql files in name order, recording each in schema_migrations
type migrator struct {
	db     *sql.DB
	logger *zap.Logger
}

// Run applies every pending file and returns how many were applied
// 未実行のマイグレーションを適用
func (m *migrator) Run(ctx context.Context, dir string) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return 0, fmt.Errorf("マイグレーションファイル検索エラー: %w", err)
	}
	if len(files) == 0 {
		m.logger.Warn("マイグレーションファイルが見つかりません", zap.String("dir", dir))
		return 0, nil
	}
	sort.Strings(files)

	executed, err := m.executed(ctx)
	if err != nil {
		return 0, fmt.Errorf("実行済みマイグレーション取得エラー: %w", err)
	}

	applied := 0
	for _, file := range files {
		filename := filepath.Base(file)

		content, err := os.ReadFile(file)
		if err != nil {
			return applied, fmt.Errorf("ファイル読み込みエラー %s: %w", filename, err)
		}
		sum := checksum(content)

		if recorded, ok := executed[filename]; ok {
			if recorded != sum {
				// 適用済みファイルの書き換えは検知のみ
				m.logger.Warn("適用済みマイグレーションの内容が変更されています",
					zap.String("file", filename),
					zap.String("recorded", recorded),
					zap.String("current", sum),
				)
			}
			m.logger.Debug("スキップ (実行済み)", zap.String("file", filename))
			continue
		}

		m.logger.Info("実行中", zap.String("file", filename))
		if err := m.apply(ctx, filename, string(content), sum); err != nil {
			return applied, err
		}
		applied++
		m.logger.Info("完了", zap.String("file", filename))
	}

	return applied, nil
}

// ensureTable マイグレーション履歴テーブルを作成
func (m *migrator) ensureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			filename VARCHAR(255) NOT NULL UNIQUE,
			executed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			checksum VARCHAR(64) NOT NULL
		)`

	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("マイグレーション履歴テーブル作成エラー: %w", err)
	}
	return nil
}

// apply runs one file and its history row in a single transaction
func (m *migrator) apply(ctx context.Context, filename, content, sum string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始エラー %s: %w", filename, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, content); err != nil {
		return fmt.Errorf("マイグレーション実行エラー %s: %w", filename, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (filename, checksum) VALUES ($1, $2)",
		filename, sum,
	); err != nil {
		return fmt.Errorf("マイグレーション履歴記録エラー %s: %w", filename, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションコミットエラー %s: %w", filename, err)
	}
	return nil
}

// executed returns filename -> checksum of applied migrations
func (m *migrator) executed(ctx context.Context) (map[string]string, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT filename, checksum FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	executed := make(map[string]string)
	for rows.Next() {
		var filename, sum string
		if err := rows.Scan(&filename, &sum); err != nil {
			return nil, err
		}
		executed[filename] = sum
	}
	return executed, rows.Err()
}

// checksum ファイル内容のSHA-256
func checksum(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}
