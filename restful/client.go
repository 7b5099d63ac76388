// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restful

// This file provides the HTTP engine: URL assembly, body encoding,
// the retry loop, and translation of failures into typed errors.

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
	"io"
	"io/ioutil"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Auth applies an authentication scheme to an outgoing request.
type Auth interface {
	Apply(req *http.Request) error
}

// BasicAuth authenticates every request with HTTP Basic credentials.
type BasicAuth struct {
	Username string
	Password string
}

// Apply sets the Authorization header on req.
func (a BasicAuth) Apply(req *http.Request) error {
	req.SetBasicAuth(a.Username, a.Password)
	return nil
}

// Config collects the connection parameters for NewClient.
type Config struct {
	// URL is the base URL of the service, for instance
	// "https://review.example.com".  Any trailing slash is
	// removed.  This is the only required field.
	URL string

	// Auth, if non-nil, is applied to every outgoing request.
	Auth Auth

	// Insecure disables verification of the server certificate.
	Insecure bool

	// CAFile, if non-empty, names a PEM file whose certificate
	// authorities are trusted instead of the system pool.
	CAFile string

	// Timeout bounds each request attempt.  Zero means no limit.
	Timeout time.Duration

	// UserAgent overrides DefaultUserAgent in the User-Agent
	// header.
	UserAgent string

	// Headers are added to every request.
	Headers map[string]string

	// RetryTransientErrors makes requests that fail with a
	// transport error or a 500, 502, 503, 504, or 52x response be
	// retried with exponential backoff.
	RetryTransientErrors bool

	// HTTPClient, if non-nil, is the session to use; the client
	// installs its redirect policy on it.  If nil, a session is
	// built from Insecure and CAFile and owned by the client.
	HTTPClient *http.Client

	// JSONLoader decodes response bodies.  Service bindings
	// override this when their wire format is almost, but not
	// quite, JSON.  If nil, DecodeJSON is used.
	JSONLoader func(data []byte) (interface{}, error)

	// Logger, if non-nil, receives a debug entry per request and
	// per retry.
	Logger *logrus.Logger

	// Clock is the time source for retry and rate-limit waits.
	// Only test code should need to set this.
	Clock clock.Clock
}

// Client is a connection to one REST service.  It is safe for
// concurrent use.
type Client struct {
	baseURL        string
	auth           Auth
	headers        map[string]string
	timeout        time.Duration
	retryTransient bool
	session        *http.Client
	ownSession     bool
	loadJSON       func(data []byte) (interface{}, error)
	logger         *logrus.Logger
	clock          clock.Clock
}

// NewClient builds a Client from config.
func NewClient(config Config) (*Client, error) {
	if config.URL == "" {
		return nil, errors.New("no service URL configured")
	}

	c := &Client{
		baseURL:        strings.TrimRight(config.URL, "/"),
		auth:           config.Auth,
		timeout:        config.Timeout,
		retryTransient: config.RetryTransientErrors,
		loadJSON:       config.JSONLoader,
		logger:         config.Logger,
		clock:          config.Clock,
	}
	if c.loadJSON == nil {
		c.loadJSON = DecodeJSON
	}
	if c.clock == nil {
		c.clock = clock.New()
	}

	c.headers = map[string]string{"User-Agent": DefaultUserAgent}
	if config.UserAgent != "" {
		c.headers["User-Agent"] = config.UserAgent
	}
	for key, value := range config.Headers {
		c.headers[key] = value
	}

	session := config.HTTPClient
	if session == nil {
		session = &http.Client{}
		if config.Insecure || config.CAFile != "" {
			tlsConfig := &tls.Config{InsecureSkipVerify: config.Insecure}
			if config.CAFile != "" {
				pem, err := ioutil.ReadFile(config.CAFile)
				if err != nil {
					return nil, err
				}
				pool := x509.NewCertPool()
				if !pool.AppendCertsFromPEM(pem) {
					return nil, fmt.Errorf("no certificates found in %v", config.CAFile)
				}
				tlsConfig.RootCAs = pool
			}
			session.Transport = &http.Transport{TLSClientConfig: tlsConfig}
		}
		c.ownSession = true
	}
	session.CheckRedirect = checkRedirect
	c.session = session

	return c, nil
}

// Close releases the idle connections of a session the client built
// itself.  A session supplied through Config.HTTPClient is left
// alone.
func (c *Client) Close() {
	if c.ownSession {
		c.session.CloseIdleConnections()
	}
}

// BaseURL returns the configured base URL without its trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// DecodeJSON decodes data as JSON into untyped values: string-keyed
// maps, slices, strings, bools, int64 and float64 numbers.  It is the
// default Config.JSONLoader.
func DecodeJSON(data []byte) (interface{}, error) {
	var out interface{}
	decoder := codec.NewDecoderBytes(data, jsonHandle())
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func jsonHandle() *codec.JsonHandle {
	handle := &codec.JsonHandle{}
	handle.MapType = reflect.TypeOf(map[string]interface{}(nil))
	handle.SignedInteger = true
	return handle
}

func encodeJSON(value interface{}) ([]byte, error) {
	var out []byte
	encoder := codec.NewEncoderBytes(&out, jsonHandle())
	err := encoder.Encode(value)
	return out, err
}

// FileUpload is one file of a multipart request.
type FileUpload struct {
	// Filename is the name reported to the server.
	Filename string

	// Content is the file body.
	Content []byte
}

// RequestOptions carries the optional parameters of Request, the verb
// helpers, and the manager operations.  The zero value is valid.
type RequestOptions struct {
	// Query is merged into the URL query string.  Values render
	// with their natural formatting; slices repeat the parameter;
	// one level of nested maps flattens into "key[subkey]"
	// parameters.  Keys already present in the URL are replaced,
	// never duplicated.
	Query map[string]interface{}

	// PostData becomes the JSON request body, or with Files the
	// non-file fields of the multipart body.
	PostData map[string]interface{}

	// RawBody, if non-empty, is sent verbatim as
	// application/octet-stream in place of PostData.
	RawBody []byte

	// Files adds multipart file uploads, keyed by form field name.
	Files map[string]FileUpload

	// Raw suppresses JSON decoding of the response in Get.
	Raw bool

	// Streamed leaves the response body unconsumed, for the caller
	// to stream; the caller must close Response.Raw.Body.
	Streamed bool

	// Timeout overrides the client's request timeout.
	Timeout time.Duration

	// DisableRateLimitWait turns off waiting out 429 responses, so
	// they fail immediately like any other error status.
	DisableRateLimitWait bool

	// RetryTransient, when non-nil, overrides the client's
	// transient-retry setting for this request.
	RetryTransient *bool

	// MaxRetries bounds how often one request is retried, across
	// all retry reasons.  Zero means the default of 10; -1 retries
	// without limit.
	MaxRetries int

	// Lazy makes Manager.Get build the object locally, holding
	// only its identifier, without issuing a request.
	Lazy bool

	// Path overrides the manager's computed path in Manager.Create
	// and the listing operations.
	Path string
}

// Response is a completed HTTP response.  For ordinary requests Body
// holds the entire response body.  For streamed requests Body is nil
// and Raw carries the live response.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	Raw        *http.Response
}

const (
	defaultMaxRetries = 10
	maxRedirects      = 10
)

// redirectMsg explains a refused redirect, naming the status, its
// reason phrase, and the source and target URLs.
const redirectMsg = "detected a %d (%q) redirection. You must update " +
	"your url to the correct url to avoid issues. The redirection was " +
	"from: %q to %q"

// checkRedirect is the redirect policy installed on every session.
// Only GET requests may follow a 301 or 302: for anything else the
// follow-up request would silently come out as a GET, so the client
// refuses with a RedirectError instead.
func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	prev := via[len(via)-1]
	if req.Response == nil {
		return nil
	}
	status := req.Response.StatusCode
	if status != http.StatusMovedPermanently && status != http.StatusFound {
		return nil
	}
	if prev.Method == http.MethodGet {
		return nil
	}
	target := req.Response.Header.Get("Location")
	message := fmt.Sprintf(redirectMsg,
		status, http.StatusText(status), prev.URL.String(), target)
	return &RedirectError{RestfulError{Message: message}}
}

// transientStatus reports whether a status code is worth retrying.
func transientStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	}
	return code >= 520 && code <= 530
}

// backoff is the exponential retry delay, 0.1s doubling per retry.
func backoff(retries int) time.Duration {
	if retries > 30 {
		// Keep the shift in range; by now each wait is over a day.
		retries = 30
	}
	return (100 * time.Millisecond) << uint(retries)
}

// retryWait picks the sleep before retrying a rate-limited or
// transient failure.  An integral Retry-After count of seconds wins;
// otherwise a RateLimit-Reset epoch timestamp is waited out if it is
// still in the future; otherwise exponential backoff.
func (c *Client) retryWait(retries int, header http.Header) time.Duration {
	if after := header.Get("Retry-After"); after != "" {
		if seconds, err := strconv.Atoi(after); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	if reset := header.Get("RateLimit-Reset"); reset != "" {
		if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
			wait := time.Unix(epoch, 0).Sub(c.clock.Now())
			if wait < 0 {
				wait = 0
			}
			return wait
		}
	}
	return backoff(retries)
}

// buildURL makes an absolute URL from path.  Absolute http and https
// URLs pass through unchanged; anything else is appended to the base
// URL.
func (c *Client) buildURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + path
}

// assembleURL resolves path against the base URL and merges query
// into whatever query string the path already carries.
func (c *Client) assembleURL(path string, query map[string]interface{}) (string, error) {
	parsed, err := url.Parse(c.buildURL(path))
	if err != nil {
		return "", err
	}
	params, err := url.ParseQuery(parsed.RawQuery)
	if err != nil {
		return "", err
	}

	flat := map[string]interface{}{}
	copyDict(flat, query)
	for key, value := range flat {
		params.Del(key)
		switch v := value.(type) {
		case []string:
			for _, item := range v {
				params.Add(key, item)
			}
		case []interface{}:
			for _, item := range v {
				params.Add(key, fmt.Sprintf("%v", item))
			}
		default:
			params.Add(key, fmt.Sprintf("%v", value))
		}
	}

	parsed.RawQuery = params.Encode()
	return parsed.String(), nil
}

// prepareBody selects the request body: multipart when files are
// present, then raw bytes, then JSON (an empty object by default).
func prepareBody(opts *RequestOptions) (body []byte, contentType string, err error) {
	if len(opts.Files) > 0 {
		return multipartBody(opts.PostData, opts.Files)
	}
	if len(opts.RawBody) > 0 {
		return opts.RawBody, "application/octet-stream", nil
	}
	post := opts.PostData
	if post == nil {
		post = map[string]interface{}{}
	}
	body, err = encodeJSON(post)
	if err != nil {
		return nil, "", err
	}
	return body, "application/json", nil
}

// multipartBody renders the form fields and files as one
// multipart/form-data body.  Form encodings have no boolean type, so
// boolean fields are sent as "0" or "1".
func multipartBody(postData map[string]interface{}, files map[string]FileUpload) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range postData {
		if b, isBool := value.(bool); isBool {
			if b {
				value = "1"
			} else {
				value = "0"
			}
		}
		if err := writer.WriteField(key, fmt.Sprintf("%v", value)); err != nil {
			return nil, "", err
		}
	}
	for field, file := range files {
		part, err := writer.CreateFormFile(field, file.Filename)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(file.Content); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

// Request performs one HTTP request, retrying per the retry options,
// and returns the response if its status was 2xx.  Anything else
// comes back as an error from the taxonomy in this package: a refused
// redirect is a *RedirectError, a 401 an *AuthenticationError, any
// other status an *HTTPError carrying the status and body, with the
// message mined from a JSON "message" or "error" field when the body
// offers one.
func (c *Client) Request(verb, path string, opts *RequestOptions) (*Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}

	fullURL, err := c.assembleURL(path, opts.Query)
	if err != nil {
		return nil, err
	}
	body, contentType, err := prepareBody(opts)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = c.timeout
	}
	retryTransient := c.retryTransient
	if opts.RetryTransient != nil {
		retryTransient = *opts.RetryTransient
	}
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}

	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{
			"verb": verb,
			"url":  fullURL,
		}).Debug("request")
	}

	retries := 0
	for {
		resp, err := c.attempt(verb, fullURL, contentType, body, timeout, opts.Streamed)
		if err != nil {
			var redirectErr *RedirectError
			if errors.As(err, &redirectErr) {
				return nil, redirectErr
			}
			if retryTransient && (maxRetries == -1 || retries < maxRetries) {
				wait := backoff(retries)
				c.logRetry(verb, fullURL, "connection", retries, wait, err)
				retryCount.With(prometheus.Labels{"reason": "connection"}).Inc()
				retries++
				c.clock.Sleep(wait)
				continue
			}
			return nil, err
		}

		requestCount.With(prometheus.Labels{
			"method": verb,
			"status": strconv.Itoa(resp.StatusCode),
		}).Inc()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		rateLimited := resp.StatusCode == http.StatusTooManyRequests &&
			!opts.DisableRateLimitWait
		transient := transientStatus(resp.StatusCode) && retryTransient
		if (rateLimited || transient) && (maxRetries == -1 || retries < maxRetries) {
			wait := c.retryWait(retries, resp.Header)
			reason := "transient"
			if rateLimited {
				reason = "rate_limit"
			}
			c.logRetry(verb, fullURL, reason, retries, wait, nil)
			retryCount.With(prometheus.Labels{"reason": reason}).Inc()
			retries++
			c.clock.Sleep(wait)
			continue
		}

		return nil, c.statusError(resp)
	}
}

// attempt runs a single HTTP exchange.  For ordinary requests it
// consumes the body before returning; a failure reading it reports
// like a transport failure so the retry loop can have another go.
func (c *Client) attempt(verb, fullURL, contentType string, body []byte, timeout time.Duration, streamed bool) (*Response, error) {
	req, err := http.NewRequest(verb, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", contentType)
	if c.auth != nil {
		if err = c.auth.Apply(req); err != nil {
			return nil, err
		}
	}

	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		var ctx context.Context
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
		req = req.WithContext(ctx)
	}

	resp, err := c.session.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}

	if streamed {
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return &Response{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Header:     resp.Header,
			Raw:        resp,
		}, nil
	}

	content, err := ioutil.ReadAll(resp.Body)
	err = firstError(err, resp.Body.Close())
	cancel()
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       content,
	}, nil
}

// statusError converts a non-2xx response into a typed error.
func (c *Client) statusError(resp *Response) error {
	message := string(resp.Body)
	if decoded, err := c.loadJSON(resp.Body); err == nil {
		if dict, isMap := decoded.(map[string]interface{}); isMap {
			for _, key := range []string{"message", "error"} {
				if value, present := dict[key]; present {
					message = fmt.Sprintf("%v", value)
				}
			}
		}
	}
	base := RestfulError{Message: message, Code: resp.StatusCode, Body: resp.Body}
	if resp.StatusCode == http.StatusUnauthorized {
		return &AuthenticationError{base}
	}
	return &HTTPError{base}
}

func (c *Client) logRetry(verb, fullURL, reason string, retries int, wait time.Duration, err error) {
	if c.logger == nil {
		return
	}
	fields := logrus.Fields{
		"verb":    verb,
		"url":     fullURL,
		"reason":  reason,
		"retries": retries,
		"wait":    wait,
	}
	if err != nil {
		fields["err"] = err
	}
	c.logger.WithFields(fields).Debug("retrying request")
}

// Get issues a GET.  When the response declares application/json and
// the request was neither streamed nor raw, the decoded payload comes
// back alongside the response; otherwise the payload is nil and the
// caller reads the response itself.
func (c *Client) Get(path string, opts *RequestOptions) (interface{}, *Response, error) {
	resp, err := c.Request("GET", path, opts)
	if err != nil {
		return nil, nil, err
	}
	if opts != nil && (opts.Streamed || opts.Raw) {
		return nil, resp, nil
	}
	if !isJSON(resp.Header.Get("Content-Type")) {
		return nil, resp, nil
	}
	decoded, err := c.loadJSON(resp.Body)
	if err != nil {
		return nil, nil, parsingError()
	}
	return decoded, resp, nil
}

// Post issues a POST.  A JSON response comes back decoded; anything
// else comes back as the raw response with a nil payload.
func (c *Client) Post(path string, opts *RequestOptions) (interface{}, *Response, error) {
	resp, err := c.Request("POST", path, opts)
	if err != nil {
		return nil, nil, err
	}
	if !isJSON(resp.Header.Get("Content-Type")) {
		return nil, resp, nil
	}
	decoded, err := c.loadJSON(resp.Body)
	if err != nil {
		return nil, nil, parsingError()
	}
	return decoded, resp, nil
}

// Put issues a PUT.  The response must decode as JSON.
func (c *Client) Put(path string, opts *RequestOptions) (interface{}, error) {
	resp, err := c.Request("PUT", path, opts)
	if err != nil {
		return nil, err
	}
	decoded, err := c.loadJSON(resp.Body)
	if err != nil {
		return nil, parsingError()
	}
	return decoded, nil
}

// Delete issues a DELETE and returns the response.
func (c *Client) Delete(path string, opts *RequestOptions) (*Response, error) {
	return c.Request("DELETE", path, opts)
}

// List issues a GET for a list-shaped query and decodes whatever the
// server sent; the caller checks the shape.
func (c *Client) List(path string, opts *RequestOptions) (interface{}, error) {
	resp, err := c.Request("GET", path, opts)
	if err != nil {
		return nil, err
	}
	decoded, err := c.loadJSON(resp.Body)
	if err != nil {
		return nil, parsingError()
	}
	return decoded, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

func parsingError() *ParsingError {
	return &ParsingError{RestfulError{Message: "Failed to parse the server message"}}
}

// cancelOnClose ties a request context to the life of a streamed
// response body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (cc *cancelOnClose) Close() error {
	err := cc.ReadCloser.Close()
	cc.cancel()
	return err
}

func firstError(e1, e2 error) error {
	if e1 != nil {
		return e1
	}
	return e2
}
