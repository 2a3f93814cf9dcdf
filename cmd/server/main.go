// Package main はAPIサーバーのエントリポイント。
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"content-key-service/config"
	"content-key-service/internal/handler"
	"content-key-service/internal/infra"
	"content-key-service/internal/repository"
	"content-key-service/internal/usecase"
)

func main() {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// トレーサー初期化（ロガー設定の前に実行）
	shutdownTracer, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(ctx); err != nil {
			slog.Error("failed to shutdown tracer", "error", err)
		}
	}()

	logger := infra.SetupLogger(cfg)

	resolver, err := usecase.NewResolverFromConfig(cfg)
	if err != nil {
		slog.Error("failed to init resolver", "error", err)
		os.Exit(1)
	}

	client := infra.NewHTTPClient(cfg.NetworkTimeout)
	deps := usecase.SessionDeps{
		Resolver:         resolver,
		Fetcher:          infra.NewCertificateClient(client),
		Exchanger:        infra.NewLicenseClient(client, cfg.LicenseContentType),
		SPCTimeout:       cfg.SPCTimeout,
		CacheCertificate: cfg.CertificateCache,
		TicketRetention:  cfg.TicketRetention,
		Logger:           logger,
	}

	// 永続化（任意）
	var ledger handler.RequestLedger
	var archiveHandler *handler.ArchiveHandler
	if cfg.DatabaseURL != "" {
		db, err := infra.NewDB(cfg.DatabaseURL, cfg.OtelEnabled)
		if err != nil {
			slog.Error("failed to init database", "error", err)
			os.Exit(1)
		}
		requests := repository.NewKeyRequestRepository(db)
		deps.Recorder = requests
		ledger = requests

		if cfg.KMSKeyName != "" {
			kmsClient, err := infra.NewKMSClient(ctx, cfg.KMSKeyName)
			if err != nil {
				slog.Error("failed to init KMS client", "error", err)
				os.Exit(1)
			}
			defer func() {
				if closeErr := kmsClient.Close(); closeErr != nil {
					slog.Error("failed to close KMS client", "error", closeErr)
				}
			}()

			archive := usecase.NewKeyArchive(repository.NewArchiveRepository(db), kmsClient)
			deps.Archiver = archive
			archiveHandler = handler.NewArchiveHandler(archive)
		}
	} else {
		slog.Warn("DATABASE_URL is not set; key request ledger and CKC archive are disabled")
	}

	// DI
	manager := usecase.NewSessionManager(deps)
	sessions := handler.NewSessionHandler(manager, usecase.NewSPCBroker(), ledger, handler.Endpoints{
		CertificateURL: cfg.CertificateURL,
		LicenseURL:     cfg.LicenseURL,
	})
	router := handler.NewRouter(sessions, archiveHandler)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(router, "content-key-service"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		abandoned := manager.Close()
		slog.Info("license sessions closed", "abandoned", abandoned)
	}()

	slog.Info("starting server",
		"port", cfg.Port,
		"locator_policy", cfg.LocatorPolicy,
		"persistence", cfg.DatabaseURL != "",
		"archive", archiveHandler != nil,
	)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}
