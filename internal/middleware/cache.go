package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticket-scanner/internal/config"
)

// cachedResponse is what a cache entry holds: enough to replay the listing
// byte for byte.
type cachedResponse struct {
	Status int         `json:"s"`
	Header http.Header `json:"h,omitempty"`
	Body   []byte      `json:"b,omitempty"`
}

func unmarshalCached(bs []byte) (cachedResponse, bool) {
	var cr cachedResponse
	if err := json.Unmarshal(bs, &cr); err != nil || cr.Status < 100 || cr.Status > 599 {
		return cachedResponse{}, false
	}
	return cr, true
}

// replay writes a hit back to the client. Content-Length is left to echo.
func (cr cachedResponse) replay(c echo.Context) {
	h := c.Response().Header()
	for k, vals := range cr.Header {
		if strings.EqualFold(k, echo.HeaderContentLength) {
			continue
		}
		for _, v := range vals {
			h.Add(k, v)
		}
	}
	h.Set("X-Cache", "HIT")
	c.Response().WriteHeader(cr.Status)
	if len(cr.Body) > 0 {
		_, _ = c.Response().Write(cr.Body)
	}
}

// bodyRecorder forwards the response and keeps up to max bytes of it. total
// counts everything written so oversize bodies can be told apart.
type bodyRecorder struct {
	http.ResponseWriter
	status int
	max    int64
	total  int64
	kept   bytes.Buffer
}

func (br *bodyRecorder) WriteHeader(code int) {
	br.status = code
	br.ResponseWriter.WriteHeader(code)
}

func (br *bodyRecorder) Write(b []byte) (int, error) {
	if room := br.max - int64(br.kept.Len()); br.max <= 0 || room >= int64(len(b)) {
		br.kept.Write(b)
	} else if room > 0 {
		br.kept.Write(b[:room])
	}
	br.total += int64(len(b))
	return br.ResponseWriter.Write(b)
}

func (br *bodyRecorder) truncated() bool {
	return br.max > 0 && br.total > br.max
}

// cacheKeyFrom hashes the request into a key under cfg.Prefix. The concrete
// path is used, never the route pattern, so /v1/cinemas/3/... and
// /v1/cinemas/4/... never share an entry.
func cacheKeyFrom(cfg config.CacheConfig, c echo.Context) string {
	r := c.Request()
	var sb strings.Builder
	switch strings.ToLower(cfg.KeyStrategy) {
	case "route":
		sb.WriteString(r.URL.Path)
	case "method_route":
		fmt.Fprintf(&sb, "%s %s", r.Method, r.URL.Path)
	case "method_route_query":
		fmt.Fprintf(&sb, "%s %s?%s", r.Method, r.URL.Path, r.URL.RawQuery)
	default: // route_query
		fmt.Fprintf(&sb, "%s?%s", r.URL.Path, r.URL.RawQuery)
	}
	return fmt.Sprintf("%s:%x", cfg.Prefix, sha1.Sum([]byte(sb.String())))
}

// NewRedisCache replays 200 responses of the showtime listing for cfg.TTL.
// Responses carry X-Cache HIT or MISS. Redis failures only cost the cache.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client, log *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("cache")
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.Methods[strings.ToUpper(c.Request().Method)] {
				return next(c)
			}
			key := cacheKeyFrom(cfg, c)

			// Hit
			bs, err := rdb.Get(c.Request().Context(), key).Bytes()
			switch {
			case err == nil:
				if cr, ok := unmarshalCached(bs); ok {
					cr.replay(c)
					return nil
				}
				log.Debug("dropping unreadable cache entry", zap.String("key", key))
			case !errors.Is(err, redis.Nil):
				log.Debug("cache read failed", zap.String("key", key), zap.Error(err))
			}

			// Miss: record while serving
			br := &bodyRecorder{ResponseWriter: c.Response().Writer, status: http.StatusOK, max: int64(cfg.MaxBodyBytes)}
			c.Response().Writer = br
			c.Response().Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			if br.status != http.StatusOK || br.truncated() {
				return nil
			}

			// Store without the marker header
			hdr := c.Response().Header().Clone()
			hdr.Del("X-Cache")
			entry, err := json.Marshal(cachedResponse{Status: br.status, Header: hdr, Body: br.kept.Bytes()})
			if err != nil {
				return nil
			}
			if err := rdb.SetEx(context.Background(), key, entry, ttl).Err(); err != nil {
				log.Debug("cache write failed", zap.String("key", key), zap.Error(err))
			}
			return nil
		}
	}
}
