// Package web serves the files a scrape wrote as a read-only JSON API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ptrun/internal/config"
	appLog "ptrun/internal/log"
	"ptrun/internal/output"
)

// Server exposes the output directory. It never writes to it.
type Server struct {
	dir      string
	cfg      config.ServeConfig
	gatherer prometheus.Gatherer
	engine   *gin.Engine
}

// NewServer builds the router. gatherer may be nil, in which case /metrics
// is not registered.
func NewServer(dir string, cfg config.ServeConfig, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		dir:      dir,
		cfg:      cfg,
		gatherer: gatherer,
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.registerRoutes()
	return s
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) basicAuthEnabled() bool {
	a := s.cfg.BasicAuth
	// An empty user name or password disables auth.
	return a != nil && a.Username != "" && a.Password != ""
}

func (s *Server) registerRoutes() {
	// /health stays unauthenticated.
	s.engine.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := s.engine.Group("/")
	if s.basicAuthEnabled() {
		appLog.Info("http basic auth enabled", "listen", "http://"+s.cfg.Listen)
		api.Use(gin.BasicAuthForRealm(gin.Accounts{
			s.cfg.BasicAuth.Username: s.cfg.BasicAuth.Password,
		}, "ptrun"))
	}

	api.GET("/events", s.serveFile(output.EventsFile))
	api.GET("/events/:id", s.handleEvent)
	api.GET("/upcoming", s.serveFile(output.UpcomingFile))
	api.GET("/upcoming/districts", s.serveFile(output.UpcomingByDistrictFile))
	api.GET("/districts", s.serveFile(output.ByDistrictFile))
	api.GET("/districts/:code", s.handleDistrict)
	api.GET("/years/:year", s.handleYear)

	if s.gatherer != nil {
		api.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
}

func (s *Server) serveFile(name string) gin.HandlerFunc {
	return func(c *gin.Context) { s.writeFile(c, name) }
}

func (s *Server) writeFile(c *gin.Context, name string) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		s.fileError(c, name, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func (s *Server) fileError(c *gin.Context, name string, err error) {
	if errors.Is(err, fs.ErrNotExist) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	appLog.Error("output read failed", err, "file", name)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read output"})
}

// positiveInt parses a path parameter; anything else is a 400. Only
// parsed numbers reach the file system.
func positiveInt(c *gin.Context, param string) (int, bool) {
	n, err := strconv.Atoi(c.Param(param))
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
		return 0, false
	}
	return n, true
}

func (s *Server) handleEvent(c *gin.Context) {
	id, ok := positiveInt(c, "id")
	if !ok {
		return
	}
	s.writeFile(c, output.EventFile(id))
}

func (s *Server) handleYear(c *gin.Context) {
	year, ok := positiveInt(c, "year")
	if !ok {
		return
	}
	s.writeFile(c, output.YearFile(year))
}

// handleDistrict answers with one group of by-district.json; a known code
// with no events is an empty list.
func (s *Server) handleDistrict(c *gin.Context) {
	code, ok := positiveInt(c, "code")
	if !ok {
		return
	}
	data, err := os.ReadFile(filepath.Join(s.dir, output.ByDistrictFile))
	if err != nil {
		s.fileError(c, output.ByDistrictFile, err)
		return
	}
	var groups map[string]json.RawMessage
	if err := json.Unmarshal(data, &groups); err != nil {
		appLog.Error("by-district decode failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read output"})
		return
	}
	group, found := groups[strconv.Itoa(code)]
	if !found {
		group = json.RawMessage("[]")
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", group)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		appLog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down with a
// short grace period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting http server", "listen", "http://"+s.cfg.Listen, "dir", s.dir)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		appLog.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	}
}
