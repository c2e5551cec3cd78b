package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tutu-network/swim/internal/daemon"
)

var (
	startConfigPath string
	startUUID       string
)

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().StringVarP(&startConfigPath, "config", "c", "", "path to a TOML config file (defaults used if omitted)")
	startCmd.Flags().StringVar(&startUUID, "uuid", "", "this member's UUID (random if omitted)")
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a swim daemon in the foreground",
	Args:  cobra.NoArgs,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg := daemon.DefaultConfig()
	if startConfigPath != "" {
		loaded, err := daemon.LoadConfig(startConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	id := uuid.New()
	if startUUID != "" {
		parsed, err := uuid.Parse(startUUID)
		if err != nil {
			return fmt.Errorf("--uuid: %w", err)
		}
		id = parsed
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	d, err := daemon.New(cfg, id, logger)
	if err != nil {
		return fmt.Errorf("build daemon: %w", err)
	}
	if err := d.Seed(); err != nil {
		return fmt.Errorf("seed daemon: %w", err)
	}

	httpAddr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	logger.Info("swim daemon started", "uuid", id, "bind", cfg.BindAddr, "api", httpAddr)

	srv := &http.Server{Addr: httpAddr, Handler: d.API.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server stopped", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	srv.Close()
	return d.Close()
}
