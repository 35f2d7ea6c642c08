package middleware

import (
    "bytes"
    "context"
    "crypto/sha1"
    "encoding/binary"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/meal-quota/internal/config"
)

// RedisCache caches successful GET responses of the ledger's read views in
// Redis and drops all of them whenever the ledger changes.  A nil client
// or a disabled config turns it into a pass-through.
type RedisCache struct {
    cfg config.CacheConfig
    rdb *redis.Client
    ttl time.Duration
}

// NewRedisCache returns a RedisCache.  rdb may be nil.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) *RedisCache {
    ttl := cfg.TTL
    if ttl <= 0 {
        ttl = 5 * time.Minute
    }
    return &RedisCache{cfg: cfg, rdb: rdb, ttl: ttl}
}

func (rc *RedisCache) enabled() bool { return rc != nil && rc.cfg.Enabled && rc.rdb != nil }

// genKey holds the cache generation.  Every cached response is stored
// under the generation that was current when its request started.
func (rc *RedisCache) genKey() string { return rc.cfg.Prefix + ":gen" }

// generation reads the current cache generation; a missing key is 0.
func (rc *RedisCache) generation(ctx context.Context) (int64, error) {
    gen, err := rc.rdb.Get(ctx, rc.genKey()).Int64()
    if errors.Is(err, redis.Nil) {
        return 0, nil
    }
    return gen, err
}

// Invalidate bumps the cache generation and then deletes every cached
// response under the configured prefix.  It is called synchronously after
// each committed ledger change.  A read that started before the bump can
// still store its response afterwards, but only under the old generation,
// which no later request looks up.
func (rc *RedisCache) Invalidate(ctx context.Context) error {
    if !rc.enabled() {
        return nil
    }
    if err := rc.rdb.Incr(ctx, rc.genKey()).Err(); err != nil {
        return fmt.Errorf("cache: bump generation: %w", err)
    }
    var cursor uint64
    pattern := rc.cfg.Prefix + ":*"
    for {
        keys, next, err := rc.rdb.Scan(ctx, cursor, pattern, 200).Result()
        if err != nil {
            return fmt.Errorf("cache: scan %s: %w", pattern, err)
        }
        if keys = withoutKey(keys, rc.genKey()); len(keys) > 0 {
            if err := rc.rdb.Unlink(ctx, keys...).Err(); err != nil {
                return fmt.Errorf("cache: unlink: %w", err)
            }
        }
        if next == 0 {
            return nil
        }
        cursor = next
    }
}

func withoutKey(keys []string, skip string) []string {
    out := keys[:0]
    for _, k := range keys {
        if k != skip {
            out = append(out, k)
        }
    }
    return out
}

// captureWriter captures response body/status while forwarding to the client.
type captureWriter struct {
    http.ResponseWriter
    status int
    buf    bytes.Buffer
    size   int64
    limit  int64
}

func (cw *captureWriter) WriteHeader(code int) { cw.status = code; cw.ResponseWriter.WriteHeader(code) }

func (cw *captureWriter) Write(b []byte) (int, error) {
    if cw.limit <= 0 || cw.size+int64(len(b)) <= cw.limit {
        cw.buf.Write(b)
    }
    cw.size += int64(len(b))
    return cw.ResponseWriter.Write(b)
}

// overflowed reports whether the response was larger than the limit and
// therefore only partially captured.
func (cw *captureWriter) overflowed() bool { return cw.limit > 0 && cw.size > cw.limit }

// Build a stable cache key honoring prefix/strategy.
func cacheKeyFrom(cfg config.CacheConfig, c echo.Context, gen int64) string {
    r := c.Request()
    method := r.Method
    route := c.Path()
    query := r.URL.Query().Encode() // sorted, so ?a=1&b=2 and ?b=2&a=1 share an entry

    parts := []string{cfg.Prefix}
    switch strings.ToLower(cfg.KeyStrategy) {
    case "route":
        parts = append(parts, "route", route)
    case "method_route":
        parts = append(parts, "method", method, "route", route)
    case "method_route_query":
        parts = append(parts, "method", method, "route", route, "q", query)
    default: // "route_query"
        parts = append(parts, "route", route, "q", query)
    }
    // Path parameters are part of the resource identity.
    for _, name := range c.ParamNames() {
        parts = append(parts, name, c.Param(name))
    }

    tail := strings.Join(parts[1:], ":")
    sum := sha1.Sum([]byte(tail))
    return fmt.Sprintf("%s:%d:%x", parts[0], gen, sum[:])
}

// encodePayload packs: [4 bytes status][4 bytes headerLen][headerJSON][body]
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
    hdrJSON, err := json.Marshal(header)
    if err != nil {
        return nil, err
    }
    out := make([]byte, 8+len(hdrJSON)+len(body))
    binary.BigEndian.PutUint32(out[0:4], uint32(status))
    binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
    copy(out[8:8+len(hdrJSON)], hdrJSON)
    copy(out[8+len(hdrJSON):], body)
    return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
    if len(bs) < 8 {
        return 0, nil, nil, false
    }
    status = int(binary.BigEndian.Uint32(bs[0:4]))
    hlen := int(binary.BigEndian.Uint32(bs[4:8]))
    if hlen < 0 || 8+hlen > len(bs) {
        return 0, nil, nil, false
    }
    hdr := make(http.Header)
    if hlen > 0 {
        if err := json.Unmarshal(bs[8:8+hlen], &hdr); err != nil {
            return 0, nil, nil, false
        }
    }
    return status, hdr, bs[8+hlen:], true
}

// Middleware serves cached responses and stores fresh 200 responses.
// Headers are stored with the body so a hit looks exactly like the
// original response.
func (rc *RedisCache) Middleware() echo.MiddlewareFunc {
    if !rc.enabled() {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    maxBody := int64(rc.cfg.MaxBodyBytes)

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if !rc.cfg.Methods[strings.ToUpper(c.Request().Method)] {
                return next(c)
            }

            ctx := c.Request().Context()
            gen, err := rc.generation(ctx)
            if err != nil {
                return next(c)
            }
            key := cacheKeyFrom(rc.cfg, c, gen)

            if bs, err := rc.rdb.Get(ctx, key).Bytes(); err == nil {
                if status, hdr, body, ok := decodePayload(bs); ok {
                    for k, vals := range hdr {
                        if strings.EqualFold(k, "Content-Length") || strings.EqualFold(k, echo.HeaderXRequestID) {
                            continue
                        }
                        for _, v := range vals {
                            c.Response().Header().Add(k, v)
                        }
                    }
                    c.Response().Header().Set("X-Cache", "HIT")
                    c.Response().WriteHeader(status)
                    if len(body) > 0 {
                        _, _ = c.Response().Write(body)
                    }
                    return nil
                }
            }

            cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: maxBody}
            c.Response().Writer = cw
            c.Response().Header().Set("X-Cache", "MISS")

            if err := next(c); err != nil {
                return err
            }
            if cw.status != http.StatusOK || cw.overflowed() {
                return nil
            }
            // A ledger change committed while the handler ran; the body may
            // predate it.
            if now, err := rc.generation(ctx); err != nil || now != gen {
                return nil
            }
            hdr := c.Response().Header().Clone()
            hdr.Del("X-Cache")
            if payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes()); err == nil {
                _ = rc.rdb.Set(context.WithoutCancel(ctx), key, payload, rc.ttl).Err()
            }
            return nil
        }
    }
}
