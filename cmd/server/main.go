// Command server runs the cashflow ledger core's HTTP surface: chi router,
// per-tenant routes, and the background outbox publisher worker that
// drains whatever the fast-path publish (attempted inline by each
// request) failed to deliver.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cashflow"
	"cashflow/internal/httpapi"
)

func main() {
	cfg, err := cashflow.LoadConfig()
	if err != nil {
		panic(err)
	}

	engine, err := cashflow.NewEngine(cfg)
	if err != nil {
		panic(err)
	}
	defer engine.Close()

	h := httpapi.NewHandler(engine, httpapi.NewStaticAuthorizer(), httpapi.NewHeaderAuthHook())
	router := httpapi.NewRouter(h)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runOutboxPublisher(ctx, engine)

	go func() {
		engine.Log.WithField("addr", cfg.HTTPAddr).Info("cashflow: http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			engine.Log.WithError(err).Fatal("cashflow: http server failed")
		}
	}()

	<-ctx.Done()
	engine.Log.Info("cashflow: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		engine.Log.WithError(err).Warn("cashflow: error during http shutdown")
	}
}

// runOutboxPublisher is the durable publishing path spec.md §4.C5/§9
// names: a ticker that periodically drains every tenant's unpublished
// outbox rows, retrying what the inline fast-path publish (attempted by
// every httpapi mutation) failed to deliver.
func runOutboxPublisher(ctx context.Context, engine *cashflow.Engine) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := engine.Publisher.DrainOnce(ctx, engine.Storage); err != nil {
				engine.Log.WithError(err).Warn("cashflow: outbox drain failed")
			}
		}
	}
}
