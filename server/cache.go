package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wudi/splitpdf/imposition"
	"github.com/wudi/splitpdf/split"
)

// ResultCache stores finished outputs keyed by input digest and options.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type RedisConf struct {
	Addr     string
	Password string
	DB       int
}

type RedisCache struct {
	internal *redis.Client
	prefix   string
}

var _ ResultCache = (*RedisCache)(nil)

func NewRedisCache(conf RedisConf) *RedisCache {
	return &RedisCache{
		internal: redis.NewClient(&redis.Options{
			Addr:     conf.Addr,
			Password: conf.Password,
			DB:       conf.DB,
		}),
		prefix: "splitpdf:",
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.internal.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.internal.Set(ctx, c.prefix+key, value, ttl).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.internal.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	if c.internal == nil {
		return nil
	}
	return c.internal.Close()
}

// resultKey identifies a run by its input bytes and the options that change
// the output.
func resultKey(data []byte, opts split.Options) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s/%d/%t/%t/%+v/", opts.Order, opts.Writer.Compression, opts.Writer.Deterministic, opts.Strict, opts.Limits.WithDefaults())
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// result is a finished run as cached: a "<input> <skipped>\n" header line
// followed by the PDF.
type result struct {
	stats imposition.Stats
	pdf   []byte
}

func (r result) encode() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d\n", r.stats.InputPages, r.stats.Skipped)
	buf.Write(r.pdf)
	return buf.Bytes()
}

func decodeResult(b []byte) (result, error) {
	nl := bytes.IndexByte(b, '\n')
	if nl < 0 {
		return result{}, errors.New("cached result has no header")
	}
	var r result
	if _, err := fmt.Sscanf(string(b[:nl]), "%d %d", &r.stats.InputPages, &r.stats.Skipped); err != nil {
		return result{}, fmt.Errorf("cached result header: %w", err)
	}
	r.stats.OutputPages = 2*r.stats.InputPages - r.stats.Skipped
	r.pdf = b[nl+1:]
	return r, nil
}
