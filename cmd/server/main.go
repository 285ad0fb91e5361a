package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/time/rate"

	"github.com/astromechza/codepad/pkg/config"
	"github.com/astromechza/codepad/pkg/store"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	addrVar := flag.String("addr", cfg.Store.Addr, "the address to listen on")
	driverVar := flag.String("db-driver", cfg.Store.DBDriver, "the database driver: sqlite3 or postgres")
	dsnVar := flag.String("db-dsn", cfg.Store.DBDSN, "the database connection string")
	flag.Parse()

	slog.Info("Opening database", "driver", *driverVar)
	database, err := store.OpenDatabase(*driverVar, *dsnVar)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := database.Init(context.Background()); err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}
	slog.Info("Ensured initial tables exist")

	registry := store.NewRegistry(database)
	s := store.NewServer(registry, store.ServerOptions{
		RateLimit: rate.Limit(cfg.Store.RateLimit),
		RateBurst: cfg.Store.RateBurst,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		registry.RunBackups(ctx, cfg.Store.BackupInterval)
	}()

	httpServer := &http.Server{Addr: *addrVar, Handler: s.Handler()}

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("Listening", "addr", *addrVar)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()
	_ = httpServer.Close()

	wg.Wait()

	// Anything written since the last tick is flushed here.
	n, err := registry.Backup(context.Background())
	slog.Info("final backup", "sessions", n)
	return err
}
