// Package web serves the record API over HTTP.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/saltyorg/lighter/internal/config"
	"github.com/saltyorg/lighter/internal/web/events"
	"github.com/saltyorg/lighter/internal/web/handlers"
	"github.com/saltyorg/lighter/internal/web/middleware"
)

// Default listen address; loopback only
const (
	DefaultBind = "127.0.0.1"
	DefaultPort = 8765
)

// Options configures a Server
type Options struct {
	Bind       string
	Port       int
	AllowedNet *net.IPNet
	Timeouts   config.TimeoutConfig
	Version    handlers.VersionInfo

	// Maintenance is reported by /api/status when set
	Maintenance handlers.MaintenanceStatus
}

// Server represents the web server
type Server struct {
	options   Options
	router    *chi.Mux
	records   handlers.RecordService
	apiKeys   middleware.KeyValidator
	sseBroker *events.Broker
	handlers  *handlers.Handlers
}

// NewServer creates a new web server
func NewServer(records handlers.RecordService, broker *events.Broker, apiKeys middleware.KeyValidator, options Options) *Server {
	if options.Port == 0 {
		options.Port = DefaultPort
	}
	s := &Server{
		options:   options,
		router:    chi.NewRouter(),
		records:   records,
		apiKeys:   apiKeys,
		sseBroker: broker,
		handlers:  handlers.New(records, options.Version),
	}

	s.handlers.SetStatusSources(options.Maintenance, broker)
	s.setupRoutes()
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return net.JoinHostPort(s.options.Bind, fmt.Sprint(s.options.Port))
}

func (s *Server) setupRoutes() {
	r := s.router
	h := s.handlers

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.AllowSubnet(s.options.AllowedNet))
	r.Use(middleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Streams are long lived and must not sit behind the request timeout
		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKey(s.apiKeys))
			r.Get("/events", s.sseBroker.ServeHTTP)
			r.Get("/ws", s.sseBroker.ServeWebSocket)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKey(s.apiKeys))
			if s.options.Timeouts.HTTPWrite > 0 {
				r.Use(chimiddleware.Timeout(s.options.Timeouts.HTTPWrite))
			}

			r.Get("/status", h.Status)

			r.Route("/records", func(r chi.Router) {
				r.Get("/", h.ListRecords)
				r.Post("/", h.InsertRecords)
				r.Delete("/{uid}", h.DeleteRecord)
			})
		})
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := s.Addr()

	server := &http.Server{
		Addr:    addr,
		Handler: s.router,
		// ReadTimeout is for reading request body
		ReadTimeout: s.options.Timeouts.HTTPRead,
		// WriteTimeout disabled (0) to allow long-lived event streams;
		// the chi timeout middleware bounds regular requests
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		// Stop the broker first so streaming clients disconnect
		s.sseBroker.Stop()
		shutdown := s.options.Timeouts.Shutdown
		if shutdown <= 0 {
			shutdown = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdown)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
