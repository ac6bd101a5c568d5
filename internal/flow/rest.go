package flow

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"lodestar/internal/realm"
	"lodestar/pkg/logging"
)

// RESTFlow serves the coordinator's request/response channel: status
// reads and record CRUD against any managed realm.
type RESTFlow struct {
	kind   string
	opts   Options
	src    Source
	logger logging.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	running  bool
	requests uint64
}

// NewRESTFlow builds the rest channel.
func NewRESTFlow(kind string, opts Options, src Source, logger logging.Logger) (Flow, error) {
	return &RESTFlow{kind: kind, opts: opts, src: src, logger: logger}, nil
}

func (f *RESTFlow) Kind() string { return f.kind }

// Start binds the listen address and begins serving. A bind failure is
// returned synchronously so coordinator startup fails loudly.
func (f *RESTFlow) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return nil
	}

	listener, err := net.Listen("tcp", f.opts.Addr())
	if err != nil {
		return fmt.Errorf("start rest flow: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(f.requestIDMiddleware(), f.loggingMiddleware(), f.recoveryMiddleware(), f.corsMiddleware())
	f.registerRoutes(router)

	f.server = &http.Server{
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	f.listener = listener
	f.running = true

	go func() {
		if err := f.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.logger.WithError(err).Error("REST flow serve failed")
		}
	}()

	f.logger.WithFields(logging.Fields{"flow": f.kind, "addr": listener.Addr().String()}).Info("Flow started")
	return nil
}

// Stop drains in-flight requests for up to timeout and closes the listener.
func (f *RESTFlow) Stop(timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return nil
	}
	f.running = false

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := f.server.Shutdown(ctx)
	f.logger.WithField("flow", f.kind).Info("Flow stopped")
	return err
}

func (f *RESTFlow) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *RESTFlow) Status() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	addr := f.opts.Addr()
	if f.listener != nil {
		addr = f.listener.Addr().String()
	}
	return map[string]any{
		"channel":  "rest",
		"running":  f.running,
		"addr":     addr,
		"requests": f.requests,
	}
}

// Addr returns the bound listen address, for tests that start on port 0.
func (f *RESTFlow) Addr() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listener == nil {
		return ""
	}
	return f.listener.Addr().String()
}

func (f *RESTFlow) registerRoutes(router *gin.Engine) {
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, f.src.Snapshot())
	})

	router.GET("/realms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"realms": f.src.RealmNames()})
	})

	router.POST("/realms/:name/records", func(c *gin.Context) {
		r, ok := f.lookupRealm(c)
		if !ok {
			return
		}
		var rec realm.Record
		if err := c.ShouldBindJSON(&rec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := r.Create(c.Request.Context(), rec)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": id})
	})

	router.GET("/realms/:name/records/:id", func(c *gin.Context) {
		r, ok := f.lookupRealm(c)
		if !ok {
			return
		}
		rec, err := r.Read(c.Request.Context(), c.Param("id"))
		if err != nil {
			f.recordError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	router.PUT("/realms/:name/records/:id", func(c *gin.Context) {
		r, ok := f.lookupRealm(c)
		if !ok {
			return
		}
		var changes realm.Record
		if err := c.ShouldBindJSON(&changes); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec, err := r.Update(c.Request.Context(), c.Param("id"), changes)
		if err != nil {
			f.recordError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	router.DELETE("/realms/:name/records/:id", func(c *gin.Context) {
		r, ok := f.lookupRealm(c)
		if !ok {
			return
		}
		if err := r.Delete(c.Request.Context(), c.Param("id")); err != nil {
			f.recordError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}

func (f *RESTFlow) lookupRealm(c *gin.Context) (realm.Realm, bool) {
	r, err := f.src.Realm(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return r, true
}

func (f *RESTFlow) recordError(c *gin.Context, err error) {
	if errors.Is(err, realm.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// requestIDMiddleware adds a unique request ID to each request
func (f *RESTFlow) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// loggingMiddleware provides structured request logging
func (f *RESTFlow) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		f.mu.Lock()
		f.requests++
		f.mu.Unlock()

		f.logger.WithFields(logging.Fields{
			"status":    c.Writer.Status(),
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"latency":   time.Since(start),
			"client_ip": c.ClientIP(),
		}).Info("HTTP request")
	}
}

// recoveryMiddleware provides panic recovery with logging
func (f *RESTFlow) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				f.logger.WithFields(logging.Fields{
					"error":  err,
					"method": c.Request.Method,
					"path":   c.Request.URL.Path,
				}).Error("Request handler panic")
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// corsMiddleware handles CORS headers
func (f *RESTFlow) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
