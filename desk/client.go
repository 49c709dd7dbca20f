// Package desk is a client for the web interface ("Desk") of Franka Emika
// robots. It logs in, arbitrates operator control, and issues the
// safety-relevant commands: opening and closing the brakes, switching the
// operating mode and toggling the Franka Control Interface (FCI).
//
// Newer system software lets one user at a time control the Desk, proven
// by a control token. A Desk can be taken over without the token only if
// nobody holds it, or forcefully by pressing the circle button on the
// robot's pilot within a short window.
//
// Live status is available through the status package; OpenStatus hands
// out channels authorised with this client's session.
package desk

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/publicsuffix"
	"gopkg.in/op/go-logging.v1"

	"github.com/jc211/panda-desk/config"
	dlog "github.com/jc211/panda-desk/internal/log"
	"github.com/jc211/panda-desk/internal/tokenstore"
	"github.com/jc211/panda-desk/status"
)

const (
	sessionCookie      = "authorization"
	controlTokenHeader = "X-Control-Token"

	defaultRequestTimeout     = 5 * time.Second
	defaultLongRequestTimeout = 50 * time.Second
	defaultEventBuffer        = 64
)

// Desk is a client for one robot's Desk. It is safe for concurrent use.
type Desk struct {
	baseURL  *url.URL
	host     string
	platform Platform

	client *http.Client
	dialer *websocket.Dialer
	log    *logging.Logger
	tokens *tokenstore.Store

	requestTimeout     time.Duration
	longRequestTimeout time.Duration
	statusOpts         status.Options
	eventBuffer        int
	logBackend         *dlog.Backend

	mu       sync.Mutex
	session  string
	username string
	control  ControlToken
}

// Option customises a Desk.
type Option func(*Desk)

// WithHTTPClient makes the Desk send requests through hc. If hc has no
// cookie jar the Desk uses a copy of hc with its own jar.
func WithHTTPClient(hc *http.Client) Option {
	return func(d *Desk) {
		c := *hc
		if c.Jar == nil {
			c.Jar = d.client.Jar
		}
		d.client = &c
	}
}

// WithTLSConfig replaces the TLS settings of both the HTTP client and the
// websocket dialer. The default skips verification because desks serve a
// self-signed certificate.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(d *Desk) {
		if t, ok := d.client.Transport.(*http.Transport); ok {
			t.TLSClientConfig = cfg
		}
		d.dialer.TLSClientConfig = cfg
	}
}

// WithLogger sets the logger for desk requests and commands.
func WithLogger(l *logging.Logger) Option {
	return func(d *Desk) {
		d.log = l
	}
}

// WithStatusLogger sets the logger handed to status channels.
func WithStatusLogger(l *logging.Logger) Option {
	return func(d *Desk) {
		d.statusOpts.Logger = l
	}
}

// WithTimeouts sets the timeout of ordinary requests and of the slow brake
// and mode commands.
func WithTimeouts(request, long time.Duration) Option {
	return func(d *Desk) {
		d.requestTimeout = request
		d.longRequestTimeout = long
	}
}

// WithKeepalive sets the status channel ping interval, pong timeout and
// write timeout.
func WithKeepalive(ping, pong, write time.Duration) Option {
	return func(d *Desk) {
		d.statusOpts.PingInterval = ping
		d.statusOpts.PongTimeout = pong
		d.statusOpts.WriteTimeout = write
	}
}

// WithEventBuffer sets the buffer of event streams returned by Watch.
func WithEventBuffer(n int) Option {
	return func(d *Desk) {
		d.eventBuffer = n
	}
}

// WithTokenDir persists control tokens in dir so a later process can retake
// control. An empty dir selects the default state directory. Without this
// option tokens live only as long as the Desk.
func WithTokenDir(dir string) Option {
	return func(d *Desk) {
		d.tokens = tokenstore.New(dir)
	}
}

// New creates a client for the desk at host, which is either a bare host
// name or address (https is assumed) or a full http(s) URL.
func New(host string, platform Platform, opts ...Option) (*Desk, error) {
	if _, ok := platformNames[platform]; !ok {
		return nil, fmt.Errorf("desk: unknown platform %d", platform)
	}
	base, err := parseBaseURL(host)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	tlsConfig := &tls.Config{InsecureSkipVerify: true}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig

	d := &Desk{
		baseURL:  base,
		host:     base.Host,
		platform: platform,
		client:   &http.Client{Transport: transport, Jar: jar},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			TLSClientConfig:  tlsConfig,
		},
		requestTimeout:     defaultRequestTimeout,
		longRequestTimeout: defaultLongRequestTimeout,
		eventBuffer:        defaultEventBuffer,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = dlog.Fallback("desk")
	}
	if d.statusOpts.Logger == nil {
		d.statusOpts.Logger = dlog.Fallback("status")
	}

	if d.tokens != nil {
		tok, err := d.tokens.Load(d.host)
		if err == nil {
			d.control, err = tokenFromStore(tok)
		}
		if err != nil {
			d.log.Warningf("Ignoring saved control token: %v", err)
		}
	}
	return d, nil
}

// NewFromConfig creates a Desk from a loaded configuration, including its
// log backend. Options are applied after the configuration.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Desk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	platform, err := ParsePlatform(cfg.Desk.Platform)
	if err != nil {
		return nil, err
	}
	backend, err := dlog.New(cfg.Log.File, cfg.Log.Level, cfg.Log.Disable)
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithLogger(backend.GetLogger("desk")),
		WithStatusLogger(backend.GetLogger("status")),
		WithTimeouts(cfg.Desk.RequestTimeout, cfg.Desk.LongRequestTimeout),
		WithKeepalive(cfg.Status.PingInterval, cfg.Status.PongTimeout, cfg.Status.WriteTimeout),
		WithEventBuffer(cfg.Status.EventBuffer),
	}
	if cfg.Desk.TLSVerify {
		base = append(base, WithTLSConfig(&tls.Config{}))
	}
	if cfg.Tokens.Persist {
		base = append(base, WithTokenDir(cfg.Tokens.Dir))
	}

	d, err := New(cfg.Desk.Host, platform, append(base, opts...)...)
	if err != nil {
		backend.Close()
		return nil, err
	}
	d.logBackend = backend
	return d, nil
}

func parseBaseURL(host string) (*url.URL, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, fmt.Errorf("desk: empty host")
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("desk: invalid host: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("desk: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("desk: invalid host %q", host)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u, nil
}

// Platform returns the platform the client was created for.
func (d *Desk) Platform() Platform {
	return d.platform
}

// BaseURL returns the desk's base URL, e.g. "https://10.103.1.111".
func (d *Desk) BaseURL() string {
	return d.baseURL.String()
}

// Close releases idle connections and the log file opened by
// NewFromConfig. It does not log out.
func (d *Desk) Close() error {
	d.client.CloseIdleConnections()
	if d.logBackend != nil {
		return d.logBackend.Close()
	}
	return nil
}

// requestBody encodes itself into a request payload.
type requestBody interface {
	encode() (io.Reader, string, error)
}

type jsonBody struct{ v any }

func (b jsonBody) encode() (io.Reader, string, error) {
	data, err := json.Marshal(b.v)
	if err != nil {
		return nil, "", err
	}
	return bytes.NewReader(data), "application/json", nil
}

// formFiles is a multipart body with each field sent as a file part, the
// way the desk's brake endpoints expect it.
type formFiles map[string]string

func (f formFiles) encode() (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, value := range f {
		part, err := w.CreateFormFile(name, name)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.WriteString(part, value); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// request performs one call and returns the response body. Any status
// other than 200 becomes a *RequestError. Nothing is retried.
func (d *Desk) request(ctx context.Context, method, path string, body requestBody, header http.Header, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		reader      io.Reader
		contentType string
	)
	if body != nil && method != http.MethodGet {
		var err error
		reader, contentType, err = body.encode()
		if err != nil {
			return nil, fmt.Errorf("desk: encoding %s %s: %w", method, path, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL.String()+path, reader)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	metricPath := path
	if i := strings.IndexByte(metricPath, '?'); i >= 0 {
		metricPath = metricPath[:i]
	}

	resp, err := d.client.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(method, metricPath, "error").Inc()
		return nil, fmt.Errorf("desk: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	requestsTotal.WithLabelValues(method, metricPath, strconv.Itoa(resp.StatusCode)).Inc()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("desk: reading %s %s: %w", method, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		d.log.Debugf("%s %s returned %d: %s", method, path, resp.StatusCode, data)
		return nil, &RequestError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}
	return data, nil
}

func controlHeader(tok ControlToken) http.Header {
	h := http.Header{}
	h.Set(controlTokenHeader, tok.Token)
	return h
}
