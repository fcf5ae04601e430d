// Package device talks to the PiKVM HTTP API: ATX power and button clicks,
// HID text injection and the switch status used for uptime tracking.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"kvmdash/internal/observability/metrics"
	logx "kvmdash/pkg/logx"
)

// ErrStatus wraps non-2xx responses.
var ErrStatus = errors.New("device: unexpected status")

const (
	DefaultBaseURL = "http://localhost"
	DefaultTimeout = 5 * time.Second
)

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec int // 0 disables limiting
}

// Target selects where a request goes. In switch mode the port is sent along
// and the /api/switch/... endpoints are used.
type Target struct {
	Switch bool
	Port   int
}

type Button string

const (
	ButtonPower Button = "power"
	ButtonReset Button = "reset"
)

// Client is safe for concurrent use. Apply swaps settings at runtime.
type Client struct {
	log     logx.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger, m *metrics.Metrics) *Client {
	c := &Client{log: log.With(logx.String("comp", "device")), metrics: m}
	c.Apply(cfg)
	return c
}

func (c *Client) Apply(cfg Config) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}

	c.mu.Lock()
	c.cfg = cfg
	c.http = &http.Client{Timeout: cfg.Timeout}
	c.limiter = lim
	c.mu.Unlock()
}

func (c *Client) snapshot() (Config, *http.Client, *rate.Limiter) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg, c.http, c.limiter
}

// PowerOn asks the ATX controller to power the target on.
func (c *Client) PowerOn(ctx context.Context, t Target) error {
	q := url.Values{}
	q.Set("action", "on")
	return c.post(ctx, "atx_power", t.path("/atx/power"), t.query(q))
}

// Click presses an ATX front-panel button.
func (c *Client) Click(ctx context.Context, t Target, b Button) error {
	q := url.Values{}
	q.Set("button", string(b))
	return c.post(ctx, "atx_click", t.path("/atx/click"), t.query(q))
}

// PrintText types text through the HID keyboard.
func (c *Client) PrintText(ctx context.Context, text string) error {
	q := url.Values{}
	q.Set("limit", "0")
	q.Set("text", text)
	return c.post(ctx, "hid_print", "/api/hid/print", q)
}

// SwitchStatus is the part of GET /api/switch the dashboard reads.
type SwitchStatus struct {
	Result struct {
		ATX struct {
			LEDs struct {
				Power []bool `json:"power"`
			} `json:"leds"`
		} `json:"atx"`
	} `json:"result"`
}

// PowerLEDs returns the per-port power LED states.
func (s SwitchStatus) PowerLEDs() []bool { return s.Result.ATX.LEDs.Power }

// Switch reads the switch status.
func (c *Client) Switch(ctx context.Context) (SwitchStatus, error) {
	var out SwitchStatus
	body, err := c.do(ctx, http.MethodGet, "switch", "/api/switch", nil)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("decode switch status: %w", err)
	}
	return out, nil
}

func (t Target) path(p string) string {
	if t.Switch {
		return "/api/switch" + p
	}
	return "/api" + p
}

func (t Target) query(q url.Values) url.Values {
	if t.Switch {
		q.Set("port", strconv.Itoa(t.Port))
	}
	return q
}

func (c *Client) post(ctx context.Context, endpoint, path string, q url.Values) error {
	_, err := c.do(ctx, http.MethodPost, endpoint, path, q)
	return err
}

func (c *Client) do(ctx context.Context, method, endpoint, path string, q url.Values) (body []byte, err error) {
	cfg, hc, lim := c.snapshot()
	start := time.Now()
	defer func() { c.metrics.ObserveDevice(endpoint, time.Since(start), err) }()

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, err
		}
	}
	u := cfg.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	body, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %s: %d", ErrStatus, method, path, resp.StatusCode)
	}
	c.log.Trace("device request ok", logx.String("method", method), logx.String("path", path), logx.Duration("took", time.Since(start)))
	return body, nil
}
