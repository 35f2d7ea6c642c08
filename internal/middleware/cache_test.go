package middleware

import (
    "context"
    "net/http"
    "net/http/httptest"
    "testing"

    "github.com/alecthomas/assert/v2"
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/meal-quota/internal/config"
)

func newContext(e *echo.Echo, target, path string, params ...string) echo.Context {
    req := httptest.NewRequest(http.MethodGet, target, nil)
    c := e.NewContext(req, httptest.NewRecorder())
    c.SetPath(path)
    if len(params) > 0 {
        names, values := []string{}, []string{}
        for i := 0; i+1 < len(params); i += 2 {
            names = append(names, params[i])
            values = append(values, params[i+1])
        }
        c.SetParamNames(names...)
        c.SetParamValues(values...)
    }
    return c
}

func TestCacheKeyDistinguishesParamsAndQuery(t *testing.T) {
    e := echo.New()
    cfg := config.CacheConfig{Prefix: "mq", KeyStrategy: "route_query"}

    a := cacheKeyFrom(cfg, newContext(e, "/v1/customers/1", "/v1/customers/:id", "id", "1"), 0)
    b := cacheKeyFrom(cfg, newContext(e, "/v1/customers/2", "/v1/customers/:id", "id", "2"), 0)
    assert.NotEqual(t, a, b)
    assert.Equal(t, "mq:0:", a[:5])

    x := cacheKeyFrom(cfg, newContext(e, "/v1/transactions?limit=5&customer_id=3", "/v1/transactions"), 0)
    y := cacheKeyFrom(cfg, newContext(e, "/v1/transactions?customer_id=3&limit=5", "/v1/transactions"), 0)
    z := cacheKeyFrom(cfg, newContext(e, "/v1/transactions?customer_id=4&limit=5", "/v1/transactions"), 0)
    assert.Equal(t, x, y)
    assert.NotEqual(t, x, z)

    cfg.KeyStrategy = "route"
    assert.Equal(t,
        cacheKeyFrom(cfg, newContext(e, "/v1/packages?x=1", "/v1/packages"), 0),
        cacheKeyFrom(cfg, newContext(e, "/v1/packages?x=2", "/v1/packages"), 0))
}

func TestCacheKeyChangesWithGeneration(t *testing.T) {
    e := echo.New()
    cfg := config.CacheConfig{Prefix: "mq", KeyStrategy: "route_query"}
    c := newContext(e, "/v1/customers/1/balance", "/v1/customers/:id/balance", "id", "1")

    // A response stored by a read that began before an invalidation lands
    // under the old generation and is never looked up again.
    before := cacheKeyFrom(cfg, c, 4)
    after := cacheKeyFrom(cfg, c, 5)
    assert.NotEqual(t, before, after)
    assert.Equal(t, "mq:5:", after[:5])
}

func TestInvalidateKeepsGenerationKey(t *testing.T) {
    keys := []string{"mq:3:ab", "mq:gen", "mq:4:cd"}
    assert.Equal(t, []string{"mq:3:ab", "mq:4:cd"}, withoutKey(keys, "mq:gen"))
    assert.Equal(t, []string{}, withoutKey([]string{"mq:gen"}, "mq:gen"))
}

func TestPayloadRoundTrip(t *testing.T) {
    hdr := http.Header{"Content-Type": {"application/json"}}
    payload, err := encodePayload(http.StatusOK, hdr, []byte(`{"ok":true}`))
    assert.NoError(t, err)

    status, gotHdr, body, ok := decodePayload(payload)
    assert.True(t, ok)
    assert.Equal(t, http.StatusOK, status)
    assert.Equal(t, hdr, gotHdr)
    assert.Equal(t, `{"ok":true}`, string(body))

    _, _, _, ok = decodePayload([]byte{0, 0})
    assert.False(t, ok)
    _, _, _, ok = decodePayload([]byte{0, 0, 0, 200, 0, 0, 1, 0})
    assert.False(t, ok)
}

func TestCaptureWriterStopsAtLimit(t *testing.T) {
    rec := httptest.NewRecorder()
    cw := &captureWriter{ResponseWriter: rec, status: http.StatusOK, limit: 4}
    _, _ = cw.Write([]byte("abc"))
    assert.False(t, cw.overflowed())
    _, _ = cw.Write([]byte("de"))
    assert.True(t, cw.overflowed())
    assert.Equal(t, "abcde", rec.Body.String())
    assert.Equal(t, "abc", cw.buf.String())
}

func TestDisabledCacheIsPassThrough(t *testing.T) {
    e := echo.New()
    rc := NewRedisCache(config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}}, nil)
    assert.NoError(t, rc.Invalidate(context.Background()))

    calls := 0
    h := rc.Middleware()(func(c echo.Context) error {
        calls++
        return c.String(http.StatusOK, "fresh")
    })
    c := newContext(e, "/v1/packages", "/v1/packages")
    assert.NoError(t, h(c))
    assert.Equal(t, 1, calls)
    assert.Equal(t, "", c.Response().Header().Get("X-Cache"))
}

func TestRateKeyStrategies(t *testing.T) {
    e := echo.New()
    req := httptest.NewRequest(http.MethodPost, "/v1/customers/1/redemptions", nil)
    req.RemoteAddr = "10.0.0.7:5555"
    c := e.NewContext(req, httptest.NewRecorder())
    c.SetPath("/v1/customers/:id/redemptions")

    cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "ip"}
    assert.Equal(t, "rl:ip:10.0.0.7", rateKey(cfg, c))
    cfg.KeyStrategy = "ip_route"
    assert.Equal(t, "rl:ip:10.0.0.7:route:POST /v1/customers/:id/redemptions", rateKey(cfg, c))
}
