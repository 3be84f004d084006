package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/docqa/internal/config"
	"github.com/xxxsen/docqa/internal/handler"
	"github.com/xxxsen/docqa/internal/job"
	"github.com/xxxsen/docqa/internal/middleware"
	"github.com/xxxsen/docqa/internal/model"
	"github.com/xxxsen/docqa/internal/pkg/password"
	"github.com/xxxsen/docqa/internal/schedule"
	"github.com/xxxsen/docqa/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "docqa",
		Short:         "question answering over your own documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// a missing .env is normal outside development
			_ = godotenv.Load()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json or config.yaml")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run docqa server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if err := cfg.ValidateServer(); err != nil {
				return err
			}
			return runServer(cfg)
		},
	}

	ingestCmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "index local documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runIngest(cmd.Context(), cfg, args)
		},
	}

	var topK int
	var threshold float64
	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "answer one question from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			q := model.Query{Text: args[0], TopK: topK}
			if cmd.Flags().Changed("threshold") {
				q.Threshold = &threshold
			}
			return runAsk(cmd.Context(), cfg, q)
		},
	}
	askCmd.Flags().IntVar(&topK, "top-k", 0, "number of candidate fragments, config value when 0")
	askCmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum similarity for a cited fragment")

	hashKeyCmd := &cobra.Command{
		Use:   "hash-key <key>",
		Short: "print the bcrypt hash of an access key for admin_key_hash or user_key_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := password.Hash(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "index every staged document missing from the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runSync(cmd.Context(), cfg)
		},
	}

	rootCmd.AddCommand(runCmd, ingestCmd, askCmd, syncCmd, hashKeyCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logutil.GetLogger(context.Background()).Fatal("command failed", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
	return cfg, nil
}

func runServer(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	lg := logutil.GetLogger(ctx)
	lg.Info("starting server",
		zap.Int("port", cfg.Port),
		zap.String("index", cfg.Index.Type),
		zap.String("file_store", cfg.FileStore.Type),
	)

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.rag.Bootstrap(ctx); err != nil {
		// documents that failed stay staged for the inbox job
		lg.Error("bootstrap index incomplete", zap.Error(err))
	}

	if cfg.Inbox.Cron != "" {
		scheduler := schedule.NewCronScheduler()
		if err := scheduler.AddJob(job.NewInboxSyncJob(a.rag), cfg.Inbox.Cron); err != nil {
			return fmt.Errorf("schedule inbox sync: %w", err)
		}
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	authService := service.NewAuthService(
		cfg.AdminKeyHash,
		cfg.UserKeyHash,
		[]byte(cfg.JWTSecret),
		time.Duration(cfg.JWTTTLMinutes)*time.Minute,
	)
	deps := handler.RouterDeps{
		Auth:           handler.NewAuthHandler(authService),
		Documents:      handler.NewDocumentHandler(a.rag, cfg.MaxUploadBytes),
		Query:          handler.NewQueryHandler(a.rag),
		Health:         handler.NewHealthHandler(a.rag),
		JWTSecret:      []byte(cfg.JWTSecret),
		QueryRateLimit: time.Duration(cfg.QueryRateLimitMs) * time.Millisecond,
	}
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler.NewRootHandler(engine),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		lg.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	lg.Info("server stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runIngest(ctx context.Context, cfg *config.Config, files []string) error {
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	var errs []error
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sourceID := filepath.Base(file)
		if err := a.rag.Ingest(ctx, data, sourceID); err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Printf("indexed %s\n", sourceID)
	}
	return errors.Join(errs...)
}

func runSync(ctx context.Context, cfg *config.Config) error {
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	added, err := a.rag.SyncStaged(ctx)
	fmt.Printf("indexed %d staged documents\n", added)
	return err
}

func runAsk(ctx context.Context, cfg *config.Config, q model.Query) error {
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	answer, err := a.rag.Ask(ctx, q)
	if err != nil {
		return err
	}
	fmt.Println(answer.Text)
	for _, src := range answer.Sources {
		fmt.Printf("  [%.3f] %s#%d\n", src.Score, src.FilePath, src.ChunkIndex)
	}
	return nil
}
