package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nemonet1337/zaiGarment/internal/config"
	"github.com/nemonet1337/zaiGarment/internal/metrics"
	"github.com/nemonet1337/zaiGarment/pkg/inventory"
	"github.com/nemonet1337/zaiGarment/pkg/inventory/publisher"
	"github.com/nemonet1337/zaiGarment/pkg/inventory/storage"
)

func main() {
	// 設定読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("設定読み込みに失敗しました:", err)
	}

	// ログ設定
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatal("ログ初期化に失敗しました:", err)
	}
	defer logger.Sync()

	// ストレージ初期化
	store, err := newStorage(cfg, logger)
	if err != nil {
		logger.Fatal("ストレージ初期化に失敗しました", zap.Error(err))
	}
	defer store.Close()

	// イベント発行
	var events inventory.EventPublisher = publisher.NopPublisher{}
	if cfg.Kafka.Enabled {
		kp := publisher.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.WriteTimeout, logger)
		defer kp.Close()
		events = kp
		logger.Info("Kafkaへの在庫イベント発行を有効化しました",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	// 在庫マネージャー初期化
	m := metrics.New("zai_garment")
	manager := inventory.NewManager(store, events, m, logger, cfg.ManagerConfig())

	// HTTPハンドラー設定
	handlers := NewHandlers(manager, store, logger, cfg.Inventory.ConflictRetries)
	router := setupRouter(handlers, m, cfg.API)

	// HTTPサーバー設定
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	// グレースフルシャットダウン設定
	go func() {
		logger.Info("在庫管理APIサーバーを開始します",
			zap.Int("port", cfg.API.Port),
			zap.String("storage", cfg.API.Storage),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("サーバー開始に失敗しました", zap.Error(err))
		}
	}()

	// シャットダウンシグナル待機
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("サーバーをシャットダウンしています...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("サーバーシャットダウンに失敗しました", zap.Error(err))
	}

	logger.Info("サーバーが正常に停止しました")
}

// newLogger builds a zap logger from the logging section
// ログ設定からロガーを作成
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// newStorage selects the backend named by api.storage
// ストレージ実装を選択
func newStorage(cfg *config.Config, logger *zap.Logger) (inventory.Storage, error) {
	switch cfg.API.Storage {
	case "memory":
		logger.Warn("インメモリストレージで起動します。再起動するとデータは失われます")
		return storage.NewMemoryStorage(), nil
	default:
		pg, err := storage.NewPostgreSQLStorage(cfg.DSN(), storage.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, logger)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
}

// setupRouter sets up HTTP routes
// HTTPルートを設定
func setupRouter(handlers *Handlers, m *metrics.Metrics, cfg config.APIConfig) *mux.Router {
	router := mux.NewRouter()

	// ヘルスチェック
	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	if cfg.EnableMetrics {
		router.Handle("/metrics", m.Handler()).Methods("GET")
	}

	// API v1ルート
	api := router.PathPrefix("/api/v1").Subrouter()

	// 入出庫
	api.HandleFunc("/inventory/receive", handlers.ReceiveStock).Methods("POST")
	api.HandleFunc("/inventory/issue", handlers.IssueStock).Methods("POST")

	// 品目
	api.HandleFunc("/items", handlers.ListItems).Methods("GET")
	api.HandleFunc("/items/{id}", handlers.GetItem).Methods("GET")
	api.HandleFunc("/items/{id}", handlers.UpdateItem).Methods("PUT")
	api.HandleFunc("/items/{id}", handlers.DeleteItem).Methods("DELETE")
	api.HandleFunc("/items/{id}/history", handlers.GetHistory).Methods("GET")
	api.HandleFunc("/items/{id}/rolls", handlers.GetRolls).Methods("GET")
	api.HandleFunc("/items/{id}/label", handlers.GetLabel).Methods("GET")
	api.HandleFunc("/items/{id}/verify", handlers.VerifyItem).Methods("GET")

	// 台帳
	api.HandleFunc("/ledger/{entryId}", handlers.DeleteLedgerEntry).Methods("DELETE")

	// 集計
	api.HandleFunc("/reports/aggregate", handlers.Aggregate).Methods("GET")
	api.HandleFunc("/reports/issues", handlers.IssueSummary).Methods("GET")

	// 資材請求
	api.HandleFunc("/requests", handlers.CreateRequest).Methods("POST")
	api.HandleFunc("/requests", handlers.ListRequests).Methods("GET")
	api.HandleFunc("/requests/{id}", handlers.GetRequest).Methods("GET")
	api.HandleFunc("/requests/{id}/issue", handlers.IssueRequest).Methods("POST")
	api.HandleFunc("/requests/{id}/receive", handlers.ReceiveRequest).Methods("POST")

	// CORS設定
	if cfg.EnableCORS {
		router.Use(corsMiddleware)
	}

	// メトリクス・ログ
	router.Use(m.Middleware)
	router.Use(loggingMiddleware(handlers.logger))

	return router
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
// HTTPリクエストをログ出力するミドルウェア
func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			logger.Info("HTTPリクエスト",
				zap.String("method", r.Method),
				zap.String("url", r.URL.Path),
				zap.String("user", r.Header.Get("X-User-ID")),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
