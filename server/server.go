// Package server exposes the split operation over HTTP.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"github.com/wudi/splitpdf/imposition"
	"github.com/wudi/splitpdf/observability"
	"github.com/wudi/splitpdf/split"
)

type JsonResult struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type Options struct {
	Split        split.Options
	MaxBodyBytes int64
	Logger       observability.Logger
	// Cache, when set, serves repeated requests for the same input and
	// options without splitting again.
	Cache    ResultCache
	CacheTTL time.Duration
	// JWTSecret, when set, requires an HMAC-signed bearer token on /v1.
	JWTSecret []byte
}

type handler struct {
	opts   Options
	logger observability.Logger
	group  singleflight.Group
}

// NewRouter builds the gin engine serving /v1/split and /healthz.
func NewRouter(opts Options) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger{}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 20
	}
	h := &handler{opts: opts, logger: opts.Logger}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Logger))
	router.GET("/healthz", h.health)
	v1 := router.Group("/v1")
	if len(opts.JWTSecret) > 0 {
		v1.Use(requireToken(opts.JWTSecret))
	}
	v1.POST("/split", h.split)
	return router
}

func requestLogger(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []observability.Field{
			observability.String("method", c.Request.Method),
			observability.String("path", c.Request.URL.Path),
			observability.Int("status", c.Writer.Status()),
			observability.Int64("latency_us", time.Since(start).Microseconds()),
		}
		if sub := c.GetString(subjectKey); sub != "" {
			fields = append(fields, observability.String("subject", sub))
		}
		logger.Info("request", fields...)
	}
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) split(c *gin.Context) {
	opts := h.opts.Split
	if o := c.Query("order"); o != "" {
		order, err := imposition.ParseOrder(o)
		if err != nil {
			h.fail(c, http.StatusBadRequest, err)
			return
		}
		opts.Order = order
	}
	if opts.Logger == nil {
		opts.Logger = h.logger
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxBodyBytes)
	data, name, err := readUpload(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(c, http.StatusRequestEntityTooLarge, fmt.Errorf("body exceeds %d bytes", tooLarge.Limit))
			return
		}
		h.fail(c, http.StatusBadRequest, err)
		return
	}

	res, cached, err := h.run(c.Request.Context(), data, opts)
	if err != nil {
		switch {
		case errors.Is(err, split.ErrInvalidInput):
			h.fail(c, http.StatusBadRequest, err)
		default:
			h.fail(c, http.StatusInternalServerError, err)
		}
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(split.DefaultOutputPath(name, opts.Suffix))))
	c.Header("X-Input-Pages", strconv.Itoa(res.stats.InputPages))
	c.Header("X-Skipped-Pages", strconv.Itoa(res.stats.Skipped))
	if h.opts.Cache != nil {
		status := "miss"
		if cached {
			status = "hit"
		}
		c.Header("X-Cache", status)
	}
	c.Data(http.StatusOK, "application/pdf", res.pdf)
}

// run splits data, consulting the cache first. Concurrent requests for the
// same key share one run, which outlives any single caller: a caller whose
// context ends stops waiting without canceling the run for the others.
func (h *handler) run(ctx context.Context, data []byte, opts split.Options) (result, bool, error) {
	key := resultKey(data, opts)
	if h.opts.Cache != nil {
		b, ok, err := h.opts.Cache.Get(ctx, key)
		switch {
		case err != nil:
			h.logger.Warn("result cache read failed", observability.Error("error", err))
		case ok:
			if res, err := decodeResult(b); err == nil {
				return res, true, nil
			}
			h.logger.Warn("discarding malformed cached result", observability.String("key", key))
		}
	}

	shared := context.WithoutCancel(ctx)
	ch := h.group.DoChan(key, func() (interface{}, error) {
		var out bytes.Buffer
		stats, err := split.Stream(shared, bytes.NewReader(data), &out, opts)
		if err != nil {
			return nil, err
		}
		res := result{stats: stats, pdf: out.Bytes()}
		if h.opts.Cache != nil {
			if err := h.opts.Cache.Set(shared, key, res.encode(), h.opts.CacheTTL); err != nil {
				h.logger.Warn("result cache write failed", observability.Error("error", err))
			}
		}
		return res, nil
	})
	select {
	case <-ctx.Done():
		return result{}, false, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return result{}, false, r.Err
		}
		return r.Val.(result), false, nil
	}
}

// readUpload returns the document from a multipart "file" field or, for any
// other content type, the raw body.
func readUpload(c *gin.Context) ([]byte, string, error) {
	if c.ContentType() == gin.MIMEMultipartPOSTForm {
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, "", fmt.Errorf("multipart field %q: %w", "file", err)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, "", err
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		return data, fh.Filename, err
	}
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", errors.New("empty body")
	}
	return data, "document.pdf", nil
}

func (h *handler) fail(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error("split failed", observability.Error("error", err))
	} else {
		h.logger.Warn("split rejected", observability.Int("status", status), observability.Error("error", err))
	}
	c.AbortWithStatusJSON(status, JsonResult{Code: status, Msg: err.Error()})
}

// Serve runs h on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, logger observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", observability.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
