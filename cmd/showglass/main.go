package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/showglass/internal/config"
	"github.com/friendsincode/showglass/internal/logbuffer"
	"github.com/friendsincode/showglass/internal/logging"
	"github.com/friendsincode/showglass/internal/server"
	"github.com/friendsincode/showglass/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
	logBuf *logbuffer.Buffer
)

var rootCmd = &cobra.Command{
	Use:   "showglass",
	Short: "ShowGlass - realtime media display synchronization",
	Long:  "ShowGlass keeps browser displays, control dashboards and external scene controllers in sync around a single persisted media state.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ShowGlass server",
	Long:  "Start the HTTP server, realtime hub, automation watcher and control bridge",
	RunE:  runServe,
}

var thumbnailsCmd = &cobra.Command{
	Use:   "thumbnails",
	Short: "Generate thumbnails for the media library and exit",
	RunE:  runThumbnails,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and exit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version)
	},
}

var thumbnailsClean bool

func init() {
	thumbnailsCmd.Flags().BoolVar(&thumbnailsClean, "clean", false, "remove thumbnails for media that no longer exists")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(thumbnailsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	// A .env beside the binary is convenient in development, ignore if absent.
	_ = godotenv.Load()

	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logBuf = logbuffer.New(1000)
	logger = logging.SetupWithWriter(cfg.Environment, logBuf)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("version", version.Version).Msg("ShowGlass starting")

	srv, err := server.New(cfg, logBuf, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	httpServer := srv.HTTPServer()

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("ShowGlass stopped")
	return nil
}

// runThumbnails runs one generation batch in the foreground, without the
// rest of the server.
func runThumbnails(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	srv, err := server.New(cfg, logBuf, logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer srv.Close()

	svc := srv.Thumbs()

	if thumbnailsClean {
		removed, err := svc.CleanOrphans()
		if err != nil {
			return fmt.Errorf("clean orphans: %w", err)
		}
		logger.Info().Int("removed", removed).Msg("orphan thumbnails removed")
	}

	batch, err := svc.Generate(args)
	if err != nil {
		return fmt.Errorf("start generation: %w", err)
	}
	logger.Info().Str("batch", batch).Msg("thumbnail generation started")

	for {
		st := svc.Status()
		if !st.Running {
			logger.Info().
				Int("done", st.Done).
				Int("failed", st.Failed).
				Int("skipped", st.Skipped).
				Msg("thumbnail generation finished")
			if st.Failed > 0 {
				return fmt.Errorf("%d thumbnail jobs failed", st.Failed)
			}
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
}
