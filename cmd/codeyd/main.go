package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ccrvlh/codey-sub000/internal/ai"
	"github.com/ccrvlh/codey-sub000/internal/api"
	"github.com/ccrvlh/codey-sub000/internal/config"
	"github.com/ccrvlh/codey-sub000/internal/eventbus"
	"github.com/ccrvlh/codey-sub000/internal/prompt"
	"github.com/ccrvlh/codey-sub000/internal/state"
	"github.com/ccrvlh/codey-sub000/internal/tools"
)

func main() {
	cfg := config.Load()
	log := logrus.NewEntry(logrus.StandardLogger())

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.WithError(err).Fatal("create data dir")
	}

	db, err := state.Open(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	defer db.Close()

	store := state.NewStore(db)
	bus := eventbus.NewBus(db)
	emitter := eventbus.NewEmitter(bus, log)
	approver := api.NewApprover(bus, log)
	approver.AutoApprove = cfg.AutoApprove

	provider, err := ai.NewProvider(cfg)
	if err != nil {
		log.WithError(err).Fatal("configure model provider")
	}

	baseCtx, cancelTasks := context.WithCancel(context.Background())
	manager := api.NewManager(baseCtx, cfg, api.ManagerDeps{
		Store:      store,
		Bus:        bus,
		Provider:   provider,
		Dispatcher: tools.NewTable(log),
		Approver:   approver,
		Emitter:    emitter,
		Env:        prompt.NewEnvironment(cfg.WorkspaceDir),
		Log:        log,
	})

	apiServer := &api.Server{Tasks: manager, Bus: bus, Store: store, Approver: approver}

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer.Handler())

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		log.WithError(err).Fatal("listen")
	}

	httpServer := &http.Server{
		Handler:           loggingMiddleware(log, mux),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return baseCtx
		},
	}

	go func() {
		log.WithField("addr", listener.Addr().String()).Info("codeyd listening")
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancelTasks()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("server shutdown error")
	}
	_ = httpServer.Close()
}

func loggingMiddleware(log *logrus.Entry, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("http request")
	})
}
