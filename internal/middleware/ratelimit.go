package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticket-scanner/internal/config"
)

// scanBucket keeps one bucket per key as a hash {tokens, stamp}. Every
// interval adds refill tokens up to capacity; a call takes one token.
// The clock is Redis TIME.
//
// KEYS[1] bucket, ARGV capacity, refill, interval_ms, ttl_s
// returns {allowed 0|1, tokens left, ms until the next token}
var scanBucket = redis.NewScript(`
	redis.replicate_commands()
	local capacity = tonumber(ARGV[1])
	local refill = tonumber(ARGV[2])
	local interval = tonumber(ARGV[3])
	local t = redis.call('TIME')
	local now = t[1] * 1000 + math.floor(t[2] / 1000)

	local tokens = tonumber(redis.call('HGET', KEYS[1], 'tokens'))
	local stamp = tonumber(redis.call('HGET', KEYS[1], 'stamp'))
	if not tokens or not stamp then
		tokens, stamp = capacity, now
	end

	-- whole intervals only, the remainder carries over
	if interval > 0 and refill > 0 and now > stamp then
		local n = math.floor((now - stamp) / interval)
		tokens = math.min(capacity, tokens + n * refill)
		stamp = stamp + n * interval
	end

	local wait = 0
	local allowed = 0
	if tokens >= 1 then
		tokens = tokens - 1
		allowed = 1
	elseif interval > 0 then
		wait = math.max(0, stamp + interval - now)
	end

	redis.call('HSET', KEYS[1], 'tokens', tokens, 'stamp', stamp)
	redis.call('EXPIRE', KEYS[1], tonumber(ARGV[4]))
	return {allowed, tokens, wait}
`)

// bucketDecision is the parsed reply of scanBucket.
type bucketDecision struct {
	Allowed   bool
	Remaining int64
	Wait      time.Duration
}

// RetryAfter is the wait rounded up to whole seconds for the Retry-After
// header.
func (d bucketDecision) RetryAfter() int {
	secs := int((d.Wait + time.Second - 1) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

// parseDecision reads the {allowed, remaining, wait_ms} reply. Lua numbers
// come back as int64; anything else is rejected.
func parseDecision(v interface{}) (bucketDecision, bool) {
	arr, ok := v.([]interface{})
	if !ok || len(arr) != 3 {
		return bucketDecision{}, false
	}
	nums := make([]int64, 3)
	for i, x := range arr {
		n, ok := x.(int64)
		if !ok {
			return bucketDecision{}, false
		}
		nums[i] = n
	}
	return bucketDecision{
		Allowed:   nums[0] == 1,
		Remaining: nums[1],
		Wait:      time.Duration(nums[2]) * time.Millisecond,
	}, true
}

// NewTokenBucket throttles scans per key (see buildRateKey). Without Redis,
// or when the script fails, requests pass through unthrottled.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ratelimit")
	ttl := int64(cfg.TTL / time.Second)
	if ttl <= 0 {
		ttl = 60
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c)

			// Take a token
			reply, err := scanBucket.Run(c.Request().Context(), rdb, []string{key},
				cfg.Capacity, cfg.RefillTokens, cfg.RefillInterval.Milliseconds(), ttl).Result()
			if err != nil {
				log.Warn("redis error, not limiting", zap.String("key", key), zap.Error(err))
				return next(c)
			}
			d, ok := parseDecision(reply)
			if !ok {
				log.Warn("unexpected script reply", zap.String("key", key), zap.Any("reply", reply))
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}

			// Bucket empty: tell the kiosk when to come back
			if !d.Allowed {
				h.Set("Retry-After", strconv.Itoa(d.RetryAfter()))
				if cfg.Debug {
					log.Info("blocked", zap.String("key", key), zap.Duration("wait", d.Wait))
				}
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "rate limit exceeded",
					"retry_after": d.RetryAfter(),
				})
			}
			return next(c)
		}
	}
}

// buildRateKey scopes a bucket. The kiosk config uses user_route: one bucket
// per operator and route.
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	uid := currentUserID(c)
	route := c.Request().Method + " " + c.Path()

	parts := []string{cfg.Prefix}
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, "ip", ip)
	case "user":
		parts = append(parts, "user", uid)
	case "route":
		parts = append(parts, "route", route)
	case "ip_user":
		parts = append(parts, "ip", ip, "user", uid)
	case "ip_route":
		parts = append(parts, "ip", ip, "route", route)
	case "user_route":
		parts = append(parts, "user", uid, "route", route)
	default:
		parts = append(parts, "ip", ip, "user", uid, "route", route)
	}
	return strings.Join(parts, ":")
}
