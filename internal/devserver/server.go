package devserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/insightflow/insightflow/internal/leadtemplate"
	"github.com/insightflow/insightflow/pkg/log"
	"github.com/insightflow/insightflow/pkg/metrics"
	"github.com/insightflow/insightflow/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	gracefulShutdownTimeout = 5 * time.Second

	FormField = "file"
)

type Options struct {
	// BaseURL is the public address of the server, used in result links.
	BaseURL     string
	UploadDir   string
	StepDelay   time.Duration
	MaxFileSize int64
	LogLevel    string
	// Store publishes results. When nil, results are kept under UploadDir and served
	// by the server itself.
	Store ResultStore
}

// Server is a stand-in for the analysis backend. It accepts uploads and streams a
// scripted analysis of them over a websocket.
type Server struct {
	opts     Options
	store    ResultStore
	uploads  *uploads
	script   *Script
	upgrader websocket.Upgrader
	registry *prometheus.Registry
	handler  http.Handler
	log      *zap.SugaredLogger
}

func New(opts Options) (*Server, error) {
	if opts.UploadDir == "" {
		return nil, fmt.Errorf("upload directory is required")
	}
	up, err := newUploads(filepath.Join(opts.UploadDir, "uploads"), opts.MaxFileSize)
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts:     opts,
		store:    opts.Store,
		uploads:  up,
		script:   NewScript(opts.StepDelay),
		registry: prometheus.NewRegistry(),
		log:      zap.S().Named("devserver"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	var local *LocalStore
	if s.store == nil {
		local, err = NewLocalStore(filepath.Join(opts.UploadDir, "results"), opts.BaseURL)
		if err != nil {
			return nil, err
		}
		s.store = local
	}

	metricMiddleware, err := metrics.NewMiddleware("devserver")
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
	}
	if err := metricMiddleware.Register(s.registry); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	router := chi.NewRouter()
	router.Use(
		metricMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowOriginFunc:  func(r *http.Request, origin string) bool { return true },
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
		chiMiddleware.RequestID,
		middleware.RequestID,
		log.ConditionalLogger(opts.LogLevel, zap.L(), "http"),
		chiMiddleware.Recoverer,
	)

	router.Get("/health", s.health)
	router.Get("/"+leadtemplate.FileName, s.template)
	router.Post("/upload", s.upload)
	router.Get("/ws/analyze/{fileID}", s.analyze)
	router.Handle("/metrics", promhttp.HandlerFor(
		prometheus.Gatherers{prometheus.DefaultGatherer, s.registry},
		promhttp.HandlerOpts{},
	))
	if local != nil {
		router.Handle(ResultsRoute+"/*", http.StripPrefix(ResultsRoute, http.FileServer(http.Dir(local.Dir()))))
	}

	s.handler = router
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// StoreType names the result store in use.
func (s *Server) StoreType() string {
	return s.store.Type()
}

// Run serves on listener until ctx is cancelled.
func (s *Server) Run(ctx context.Context, listener net.Listener) error {
	srv := http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// analyses streaming on hijacked connections stop with ctx
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		s.log.Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		s.uploads.Purge()
		s.log.Info("devserver terminated")
	}()

	s.log.Infow("serving", "address", listener.Addr().String(), "results", s.store.Type())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
