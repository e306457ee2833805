package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mpc-drive/control"
	"mpc-drive/recorder"
)

func main() {
	var (
		listen   = flag.String("listen", ":4567", "Listen address for the simulator websocket")
		profile  = flag.String("profile", "", "Vehicle profile JSON (defaults apply if empty)")
		logLevel = flag.String("log", "info", "debug|info|warn|error")
		record   = flag.String("record", "", "SQLite path for cycle diagnostics (off if empty)")
		canIface = flag.String("can-iface", "", "SocketCAN interface to mirror commands onto (off if empty)")
	)
	flag.Parse()

	log, err := buildLogger(*logLevel)
	if err != nil {
		os.Stderr.WriteString("ERROR: cannot build logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	cfg := control.DefaultConfig()
	if *profile != "" {
		cfg, err = control.LoadConfig(*profile)
		if err != nil {
			log.Fatalw("load profile failed", "path", *profile, "error", err)
		}
	}

	var rec *recorder.Recorder
	if *record != "" {
		rec, err = recorder.Open(*record)
		if err != nil {
			log.Fatalw("open recorder failed", "path", *record, "error", err)
		}
		defer rec.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    *listen,
		Handler: NewServer(cfg, log, rec, *canIface).Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infow("listening", "addr", *listen,
		"horizon", cfg.HorizonSteps, "dt", cfg.StepSec, "latency", cfg.LatencySec)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalw("serve failed", "error", err)
	}
}

func buildLogger(level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
