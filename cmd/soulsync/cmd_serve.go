package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/user/soulsync/internal/api"
	"github.com/user/soulsync/internal/crisis"
	"github.com/user/soulsync/internal/delivery"
	"github.com/user/soulsync/internal/gateway"
	"github.com/user/soulsync/internal/scheduler"
	"github.com/user/soulsync/internal/state"
	"github.com/user/soulsync/internal/telegram"
	"github.com/user/soulsync/internal/types"
	"github.com/user/soulsync/internal/watcher"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the soulsync daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, "soulsync.pid")
}

func writePIDFile(dataDir string) (string, error) {
	path := pidPath(dataDir)
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

func checkInStore(dataDir string) *state.CheckInStore {
	return state.NewCheckInStore(filepath.Join(dataDir, "checkins.json"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidFile, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveryReg := delivery.NewRegistry()
	alerts := deliveryReg.CrisisAlerts(types.SessionKey(cfg.Crisis.AlertKey))

	a, err := openApp(ctx, cfg, true, crisis.WithPriorityHandler(alerts))
	if err != nil {
		return err
	}
	defer a.Close()

	gw := a.newGateway()
	gw.Start(ctx)
	defer gw.Stop()

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("log_level", cfg.LogLevel).
		Int("max_concurrent", cfg.MaxConcurrent).
		Str("llm_provider", cfg.LLM.Provider).
		Str("llm_model", cfg.LLM.Model).
		Str("memory_backend", cfg.Memory.Backend).
		Str("memory_index", cfg.Memory.Index).
		Str("pid_file", pidFile).
		Msg("soulsync started")

	deliveryReg.Register("cli", func(_ context.Context, key types.SessionKey, message string) error {
		log.Info().Str("session_key", string(key)).Str("message", message).Msg("cli delivery")
		return nil
	})

	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, gw, a.events, a.detector)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		deliveryReg.Register("telegram:", adapter.Deliver)
		log.Info().Msg("telegram adapter started")
	} else {
		log.Warn().Msg("telegram adapter disabled (no token)")
	}

	var schedOpts []scheduler.Option
	if cfg.Session.ReapSchedule != "" && cfg.IdleTimeout() > 0 {
		schedOpts = append(schedOpts, scheduler.WithReaper(cfg.Session.ReapSchedule, func() {
			gw.ReapIdle(ctx, cfg.IdleTimeout(), gateway.WithOnComplete(func(res gateway.Result) {
				if res.Err != nil {
					log.Error().Err(res.Err).Msg("reaped session could not be saved")
				}
			}))
		}))
	}
	sched := scheduler.New(checkInStore(cfg.DataDir), func(c *state.CheckIn) {
		if err := deliveryReg.Deliver(ctx, types.SessionKey(c.SessionKey), c.Message); err != nil {
			log.Error().Err(err).Str("checkin", c.Name).Str("session_key", c.SessionKey).Msg("check-in delivery failed")
		}
	}, schedOpts...)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()
	log.Info().Msg("scheduler started")

	w, err := watcher.New(a.mem.Path(), func() { a.mem.Reload(ctx) })
	if err != nil {
		return fmt.Errorf("create memory watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start memory watcher: %w", err)
	}
	defer w.Stop()

	if cfg.API.Addr != "" {
		srv := api.NewServer(gw, a.index, a.events, a.mem, a.detector,
			api.WithVersion(version), api.WithCheckIns(sched))
		httpServer := &http.Server{
			Addr:              cfg.API.Addr,
			Handler:           srv,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.API.Addr).Msg("api server started")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("api server error")
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			httpServer.Shutdown(shutdownCtx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			log.Info().Msg("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				log.Error().Err(err).Msg("failed to get executable path")
				continue
			}
			endActive(gw)
			os.Remove(pidFile)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				log.Error().Err(err).Msg("failed to re-exec")
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					log.Error().Err(writeErr).Msg("failed to re-write PID file")
				}
				continue
			}
		}
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		endActive(gw)
		return nil
	}
}

// endActive saves every session still in progress before the daemon exits.
func endActive(gw *gateway.Gateway) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for _, key := range gw.ActiveKeys() {
		if _, err := gw.Submit(ctx, gateway.RunEnd, &types.InboundEvent{Source: key.Source(), SessionKey: key}); err != nil {
			log.Error().Err(err).Str("session_key", string(key)).Msg("session lost at shutdown")
			continue
		}
		log.Info().Str("session_key", string(key)).Msg("session saved at shutdown")
	}
}
