// Package httpapi — служебный HTTP: здоровье, метрики, показатели аккаунта,
// ручной запуск выплаты, страницы журнала и выгрузка журнала.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-engine/internal/features/dashboard"
	"serotonyl.ru/invest-engine/internal/features/ledger"
	"serotonyl.ru/invest-engine/internal/features/payout"
)

// Pinger проверяет доступность базы.
type Pinger interface {
	Ping(ctx context.Context) error
}

type DashboardSource interface {
	Snapshot(ctx context.Context, userID int64) (dashboard.Figures, error)
}

type PayoutRunner interface {
	Run(ctx context.Context, userID int64) (payout.Result, error)
}

// LedgerReader: постраничное чтение журнала и выгрузка в CSV.
type LedgerReader interface {
	Page(ctx context.Context, q ledger.Query, token string) (ledger.Page, error)
	Export(ctx context.Context, q ledger.Query, text string, maxPages int, w io.Writer) (int, error)
}

// Deps: всё, что нужно обработчикам.
type Deps struct {
	DB        Pinger
	Dashboard DashboardSource
	Payout    PayoutRunner
	Ledger    LedgerReader
	Location  *time.Location
	// MaxExportPages: верхняя граница параметра pages
	MaxExportPages int
}

// Server: HTTP сервер движка.
type Server struct {
	srv *http.Server
}

func NewServer(addr string, d Deps) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           NewRouter(d),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
	}}
}

// NewRouter собирает маршруты.
func NewRouter(d Deps) http.Handler {
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.MaxExportPages <= 0 {
		d.MaxExportPages = 20
	}
	h := &handler{deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/accounts/{id}", func(r chi.Router) {
		r.Get("/dashboard", h.dashboard)
		r.Post("/payout", h.payout)
		r.Get("/ledger", h.ledgerPage)
		r.Get("/ledger.csv", h.ledgerCSV)
	})
	return r
}

// Start слушает адрес до вызова Shutdown.
func (s *Server) Start() error {
	log.WithField("addr", s.srv.Addr).Info("HTTP сервер запущен")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP сервер: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
