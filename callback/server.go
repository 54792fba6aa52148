// Package callback receives interactive approval clicks from Slack and
// resolves the matching approvals.
package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"

	"github.com/skyengage/skyengage/approval"
)

type Resolver interface {
	Resolve(ctx context.Context, req approval.ResolveRequest) (approval.Resolution, error)
}

type Config struct {
	// required; requests are authenticated with it
	SigningSecret string
	Bind          string
	// tolerated clock difference for the request timestamp
	MaxSkew time.Duration
	Logger  *slog.Logger
	// defaults to time.Now
	Clock func() time.Time
}

type Server struct {
	echo     *echo.Echo
	httpd    *http.Server
	resolver Resolver
	secret   string
	maxSkew  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// collectors are registered globally, so the middleware is built once
var promMiddleware = sync.OnceValue(func() echo.MiddlewareFunc {
	return echoprometheus.NewMiddleware("skyengage_callback")
})

func NewServer(resolver Resolver, config Config) (*Server, error) {
	if config.SigningSecret == "" {
		return nil, errors.New("callback server requires a signing secret")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxSkew <= 0 {
		config.MaxSkew = DefaultMaxSkew
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	e := echo.New()

	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		echo:     e,
		resolver: resolver,
		secret:   config.SigningSecret,
		maxSkew:  config.MaxSkew,
		now:      config.Clock,
		logger:   logger.With("component", "callback"),
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(promMiddleware())
	e.HTTPErrorHandler = srv.errorHandler

	e.GET("/_health", srv.HandleHealthCheck)
	e.POST("/slack/interactive", srv.HandleInteractive)

	return srv, nil
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

// RunAPI serves until ctx is done, then shuts down gracefully.
func (srv *Server) RunAPI(ctx context.Context) error {
	srv.logger.Info("starting callback server", "bind", srv.httpd.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("callback server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	if err := srv.Shutdown(); err != nil {
		srv.logger.Error("HTTP server shutdown error", "err", err)
	}
	<-errCh
	srv.logger.Info("graceful shutdown complete")
	return nil
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	var errorMessage string
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		errorMessage = fmt.Sprintf("%s", he.Message)
	}
	if code >= 500 {
		srv.logger.Warn("callback server error", "err", err, "path", c.Path())
	}
	if c.Response().Committed {
		return
	}
	_ = c.JSON(code, GenericError{Error: http.StatusText(code), Message: errorMessage})
}
