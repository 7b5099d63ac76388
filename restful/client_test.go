// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restful

import (
	"errors"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"io/ioutil"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// recorded is one request as the test server saw it.
type recorded struct {
	method      string
	path        string
	escapedPath string
	rawQuery    string
	contentType string
	header      http.Header
	body        []byte
}

// capture collects the requests a test server receives.
type capture struct {
	requests []recorded
}

func (c *capture) serve(status int, contentType, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		content, _ := ioutil.ReadAll(r.Body)
		c.requests = append(c.requests, recorded{
			method:      r.Method,
			path:        r.URL.Path,
			escapedPath: r.URL.EscapedPath(),
			rawQuery:    r.URL.RawQuery,
			contentType: r.Header.Get("Content-Type"),
			header:      r.Header,
			body:        content,
		})
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (c *capture) last() recorded {
	return c.requests[len(c.requests)-1]
}

func newTestClient(t *testing.T, handler http.Handler, config Config) (*Client, func()) {
	server := httptest.NewServer(handler)
	config.URL = server.URL
	client, err := NewClient(config)
	if err != nil {
		server.Close()
		t.Fatalf("NewClient: %v", err)
	}
	return client, func() {
		client.Close()
		server.Close()
	}
}

func TestRequestDefaults(t *testing.T) {
	rec := &capture{}
	client, done := newTestClient(t, rec.serve(200, "application/json", "{}"), Config{})
	defer done()

	_, _, err := client.Get("/things", nil)
	assert.NoError(t, err)

	req := rec.last()
	assert.Equal(t, "GET", req.method)
	assert.Equal(t, "/things", req.path)
	// Even a GET carries an empty JSON object and says so.
	assert.Equal(t, "application/json", req.contentType)
	assert.Equal(t, "{}", string(req.body))
	assert.Equal(t, DefaultUserAgent, req.header.Get("User-Agent"))
}

func TestRequestCustomHeaders(t *testing.T) {
	rec := &capture{}
	client, done := newTestClient(t, rec.serve(200, "application/json", "{}"), Config{
		UserAgent: "custom-agent/1.0",
		Headers:   map[string]string{"X-Extra": "present"},
	})
	defer done()

	_, _, err := client.Get("/things", nil)
	assert.NoError(t, err)
	assert.Equal(t, "custom-agent/1.0", rec.last().header.Get("User-Agent"))
	assert.Equal(t, "present", rec.last().header.Get("X-Extra"))
}

func TestRequestBasicAuth(t *testing.T) {
	rec := &capture{}
	client, done := newTestClient(t, rec.serve(200, "application/json", "{}"), Config{
		Auth: BasicAuth{Username: "who", Password: "secret"},
	})
	defer done()

	_, _, err := client.Get("/things", nil)
	assert.NoError(t, err)

	auth := rec.last().header.Get("Authorization")
	assert.True(t, strings.HasPrefix(auth, "Basic "))
}

func TestQueryMerging(t *testing.T) {
	rec := &capture{}
	client, done := newTestClient(t, rec.serve(200, "application/json", "[]"), Config{})
	defer done()

	_, err := client.List("/things?a=1&b=2", &RequestOptions{
		Query: map[string]interface{}{
			"b":     "three",
			"c":     []interface{}{1, 2},
			"flags": map[string]interface{}{"x": true},
		},
	})
	assert.NoError(t, err)

	params, err := url.ParseQuery(rec.last().rawQuery)
	if assert.NoError(t, err) {
		assert.Equal(t, []string{"1"}, params["a"])
		// The request parameter replaces the embedded one instead of
		// duplicating it.
		assert.Equal(t, []string{"three"}, params["b"])
		assert.Equal(t, []string{"1", "2"}, params["c"])
		assert.Equal(t, []string{"true"}, params["flags[x]"])
	}
}

func TestPostDataBody(t *testing.T) {
	rec := &capture{}
	client, done := newTestClient(t, rec.serve(201, "application/json", `{"id": 1}`), Config{})
	defer done()

	payload, _, err := client.Post("/things", &RequestOptions{
		PostData: map[string]interface{}{"name": "widget"},
	})
	if assert.NoError(t, err) {
		assert.Equal(t, map[string]interface{}{"id": int64(1)}, payload)
	}

	req := rec.last()
	assert.Equal(t, "application/json", req.contentType)
	sent, err := DecodeJSON(req.body)
	if assert.NoError(t, err) {
		assert.Equal(t, map[string]interface{}{"name": "widget"}, sent)
	}
}

func TestRawBody(t *testing.T) {
	rec := &capture{}
	client, done := newTestClient(t, rec.serve(200, "application/json", "{}"), Config{})
	defer done()

	_, _, err := client.Post("/things", &RequestOptions{
		RawBody: []byte("raw bytes"),
	})
	assert.NoError(t, err)
	assert.Equal(t, "application/octet-stream", rec.last().contentType)
	assert.Equal(t, "raw bytes", string(rec.last().body))
}

func TestMultipartBody(t *testing.T) {
	rec := &capture{}
	client, done := newTestClient(t, rec.serve(200, "application/json", "{}"), Config{})
	defer done()

	_, _, err := client.Post("/things", &RequestOptions{
		PostData: map[string]interface{}{"active": true, "hidden": false, "name": "w"},
		Files: map[string]FileUpload{
			"attachment": {Filename: "notes.txt", Content: []byte("contents")},
		},
	})
	assert.NoError(t, err)

	req := rec.last()
	mediaType, params, err := mime.ParseMediaType(req.contentType)
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, "multipart/form-data", mediaType)

	reader := multipart.NewReader(strings.NewReader(string(req.body)), params["boundary"])
	form, err := reader.ReadForm(1 << 20)
	if !assert.NoError(t, err) {
		return
	}
	// Form encodings have no booleans, so they travel as "1" and "0".
	assert.Equal(t, []string{"1"}, form.Value["active"])
	assert.Equal(t, []string{"0"}, form.Value["hidden"])
	assert.Equal(t, []string{"w"}, form.Value["name"])
	if assert.Len(t, form.File["attachment"], 1) {
		header := form.File["attachment"][0]
		assert.Equal(t, "notes.txt", header.Filename)
		file, err := header.Open()
		if assert.NoError(t, err) {
			content, _ := ioutil.ReadAll(file)
			_ = file.Close()
			assert.Equal(t, "contents", string(content))
		}
	}
}

func TestGetSkipsNonJSON(t *testing.T) {
	rec := &capture{}
	client, done := newTestClient(t, rec.serve(200, "text/plain", "hello"), Config{})
	defer done()

	payload, resp, err := client.Get("/things", nil)
	if assert.NoError(t, err) {
		assert.Nil(t, payload)
		assert.Equal(t, "hello", string(resp.Body))
	}
}

func TestGetRaw(t *testing.T) {
	rec := &capture{}
	client, done := newTestClient(t, rec.serve(200, "application/json", `{"a": 1}`), Config{})
	defer done()

	payload, resp, err := client.Get("/things", &RequestOptions{Raw: true})
	if assert.NoError(t, err) {
		assert.Nil(t, payload)
		assert.Equal(t, `{"a": 1}`, string(resp.Body))
	}
}

func TestGetStreamed(t *testing.T) {
	rec := &capture{}
	client, done := newTestClient(t, rec.serve(200, "application/json", `{"a": 1}`), Config{})
	defer done()

	payload, resp, err := client.Get("/things", &RequestOptions{Streamed: true})
	if !assert.NoError(t, err) {
		return
	}
	assert.Nil(t, payload)
	assert.Nil(t, resp.Body)
	if assert.NotNil(t, resp.Raw) {
		content, err := ioutil.ReadAll(resp.Raw.Body)
		assert.NoError(t, err)
		assert.NoError(t, resp.Raw.Body.Close())
		assert.Equal(t, `{"a": 1}`, string(content))
	}
}

func TestPutDecodesAnyBody(t *testing.T) {
	rec := &capture{}
	client, done := newTestClient(t, rec.serve(200, "text/plain", `{"ok": true}`), Config{})
	defer done()

	payload, err := client.Put("/things/1", nil)
	if assert.NoError(t, err) {
		assert.Equal(t, map[string]interface{}{"ok": true}, payload)
	}
}

func TestPutParsingError(t *testing.T) {
	rec := &capture{}
	client, done := newTestClient(t, rec.serve(200, "text/plain", "not json"), Config{})
	defer done()

	_, err := client.Put("/things/1", nil)
	if assert.Error(t, err) {
		assert.IsType(t, &ParsingError{}, err)
		assert.EqualError(t, err, "Failed to parse the server message")
	}
}

func TestDelete(t *testing.T) {
	rec := &capture{}
	client, done := newTestClient(t, rec.serve(204, "", ""), Config{})
	defer done()

	resp, err := client.Delete("/things/1", nil)
	if assert.NoError(t, err) {
		assert.Equal(t, 204, resp.StatusCode)
	}
	assert.Equal(t, "DELETE", rec.last().method)
}

func TestStatusErrorMinesMessage(t *testing.T) {
	rec := &capture{}
	client, done := newTestClient(t,
		rec.serve(400, "application/json", `{"message": "bad", "error": "worse"}`),
		Config{})
	defer done()

	_, _, err := client.Get("/things", nil)
	if !assert.Error(t, err) {
		return
	}
	var httpErr *HTTPError
	if assert.True(t, errors.As(err, &httpErr)) {
		// With both keys present the error key wins.
		assert.Equal(t, "worse", httpErr.Message)
		assert.Equal(t, 400, httpErr.Code)
		assert.Equal(t, `{"message": "bad", "error": "worse"}`, string(httpErr.Body))
	}
}

func TestStatusErrorPlainBody(t *testing.T) {
	rec := &capture{}
	client, done := newTestClient(t, rec.serve(500, "text/plain", "exploded"), Config{})
	defer done()

	_, _, err := client.Get("/things", nil)
	var httpErr *HTTPError
	if assert.True(t, errors.As(err, &httpErr)) {
		assert.Equal(t, "exploded", httpErr.Message)
		assert.Equal(t, 500, httpErr.HTTPStatus())
	}
}

func TestUnauthorized(t *testing.T) {
	rec := &capture{}
	client, done := newTestClient(t,
		rec.serve(401, "application/json", `{"message": "who are you"}`),
		Config{})
	defer done()

	_, _, err := client.Get("/things", nil)
	var authErr *AuthenticationError
	if assert.True(t, errors.As(err, &authErr)) {
		assert.Equal(t, "who are you", authErr.Message)
		assert.Equal(t, 401, authErr.Code)
	}
}

func TestRedirectRefusedForPost(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	client, done := newTestClient(t, mux, Config{})
	defer done()

	_, _, err := client.Post("/old", nil)
	var redirectErr *RedirectError
	if assert.True(t, errors.As(err, &redirectErr)) {
		assert.Contains(t, redirectErr.Message, "302")
		assert.Contains(t, redirectErr.Message, "/old")
		assert.Contains(t, redirectErr.Message, "/new")
	}
}

func TestRedirectFollowedForGet(t *testing.T) {
	rec := &capture{}
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", rec.serve(200, "application/json", `{"moved": true}`))
	client, done := newTestClient(t, mux, Config{})
	defer done()

	payload, _, err := client.Get("/old", nil)
	if assert.NoError(t, err) {
		assert.Equal(t, map[string]interface{}{"moved": true}, payload)
	}
}

// rateLimiter fails the first n requests with 429 and no wait.
func rateLimiter(n int, handler http.HandlerFunc) (http.HandlerFunc, *int) {
	attempts := new(int)
	return func(w http.ResponseWriter, r *http.Request) {
		*attempts++
		if *attempts <= n {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		handler(w, r)
	}, attempts
}

func TestRateLimitedRetried(t *testing.T) {
	rec := &capture{}
	handler, attempts := rateLimiter(2, rec.serve(200, "application/json", "{}"))
	client, done := newTestClient(t, handler, Config{})
	defer done()

	_, _, err := client.Get("/things", nil)
	assert.NoError(t, err)
	assert.Equal(t, 3, *attempts)
}

func TestRateLimitWaitDisabled(t *testing.T) {
	rec := &capture{}
	handler, attempts := rateLimiter(1, rec.serve(200, "application/json", "{}"))
	client, done := newTestClient(t, handler, Config{})
	defer done()

	_, _, err := client.Get("/things", &RequestOptions{DisableRateLimitWait: true})
	var httpErr *HTTPError
	if assert.True(t, errors.As(err, &httpErr)) {
		assert.Equal(t, http.StatusTooManyRequests, httpErr.Code)
	}
	assert.Equal(t, 1, *attempts)
}

// flaky fails the first n requests with status and no wait.
func flaky(n, status int, handler http.HandlerFunc) (http.HandlerFunc, *int) {
	attempts := new(int)
	return func(w http.ResponseWriter, r *http.Request) {
		*attempts++
		if *attempts <= n {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(status)
			return
		}
		handler(w, r)
	}, attempts
}

func TestTransientRetried(t *testing.T) {
	rec := &capture{}
	handler, attempts := flaky(2, 502, rec.serve(200, "application/json", "{}"))
	client, done := newTestClient(t, handler, Config{RetryTransientErrors: true})
	defer done()

	_, _, err := client.Get("/things", nil)
	assert.NoError(t, err)
	assert.Equal(t, 3, *attempts)
}

func TestTransientNotRetriedByDefault(t *testing.T) {
	rec := &capture{}
	handler, attempts := flaky(1, 502, rec.serve(200, "application/json", "{}"))
	client, done := newTestClient(t, handler, Config{})
	defer done()

	_, _, err := client.Get("/things", nil)
	var httpErr *HTTPError
	if assert.True(t, errors.As(err, &httpErr)) {
		assert.Equal(t, 502, httpErr.Code)
	}
	assert.Equal(t, 1, *attempts)
}

func TestRetryBudgetExhausted(t *testing.T) {
	rec := &capture{}
	handler, attempts := flaky(100, 503, rec.serve(200, "application/json", "{}"))
	retry := true
	client, done := newTestClient(t, handler, Config{})
	defer done()

	_, _, err := client.Get("/things", &RequestOptions{
		RetryTransient: &retry,
		MaxRetries:     2,
	})
	var httpErr *HTTPError
	if assert.True(t, errors.As(err, &httpErr)) {
		assert.Equal(t, 503, httpErr.Code)
	}
	assert.Equal(t, 3, *attempts)
}

func TestRetryWait(t *testing.T) {
	mock := clock.NewMock()
	c := &Client{clock: mock}

	header := http.Header{}
	header.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, c.retryWait(0, header))

	// The mock clock sits at the epoch, so an epoch timestamp of 100
	// is 100 seconds out.
	header = http.Header{}
	header.Set("RateLimit-Reset", "100")
	assert.Equal(t, 100*time.Second, c.retryWait(0, header))

	// A reset time in the past means no wait at all.
	header.Set("RateLimit-Reset", "-50")
	assert.Equal(t, time.Duration(0), c.retryWait(0, header))

	// An unusable Retry-After falls through to the reset time.
	header = http.Header{}
	header.Set("Retry-After", "soon")
	header.Set("RateLimit-Reset", "10")
	assert.Equal(t, 10*time.Second, c.retryWait(0, header))

	// Nothing usable at all falls back to exponential backoff.
	assert.Equal(t, 400*time.Millisecond, c.retryWait(2, http.Header{}))
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, backoff(0))
	assert.Equal(t, 200*time.Millisecond, backoff(1))
	assert.Equal(t, 800*time.Millisecond, backoff(3))
	assert.Equal(t, backoff(30), backoff(40))
}

func TestTransientStatus(t *testing.T) {
	for _, code := range []int{500, 502, 503, 504, 520, 526, 530} {
		assert.True(t, transientStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 400, 404, 429, 501, 519, 531} {
		assert.False(t, transientStatus(code), "status %d", code)
	}
}

func TestTimeout(t *testing.T) {
	slow := func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(250 * time.Millisecond)
		w.WriteHeader(200)
	}
	client, done := newTestClient(t, http.HandlerFunc(slow), Config{
		Timeout: 50 * time.Millisecond,
	})
	defer done()

	_, _, err := client.Get("/slow", nil)
	assert.Error(t, err)
	var httpErr *HTTPError
	assert.False(t, errors.As(err, &httpErr))
}

func TestBuildURL(t *testing.T) {
	c := &Client{baseURL: "http://example.com/api"}
	assert.Equal(t, "http://example.com/api/things", c.buildURL("/things"))
	assert.Equal(t, "https://other.example.com/x",
		c.buildURL("https://other.example.com/x"))
}

func TestDecodeJSONNumbers(t *testing.T) {
	payload, err := DecodeJSON([]byte(`{"count": 42, "ratio": 1.5}`))
	if assert.NoError(t, err) {
		dict := payload.(map[string]interface{})
		assert.Equal(t, int64(42), dict["count"])
		assert.Equal(t, 1.5, dict["ratio"])
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}
