package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/imran1337/solid-prediction/internal/platform/envutil"
	"github.com/imran1337/solid-prediction/internal/platform/logger"
)

var (
	ErrNoTaskID       = errors.New("could not get a valid task id from server")
	ErrCancelled      = errors.New("process cancelled by the server")
	ErrUndefinedState = errors.New("undefined state on server for the current task")
)

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("could not generate a valid indexer, code: %d", e.StatusCode)
}

type Options struct {
	BaseURL string
	Builder string

	// Interval between status reads.
	Interval time.Duration
	// MaxRetries bounds setup retries after connection failures.
	MaxRetries int
	// Backoff is multiplied by the attempt number between setup retries.
	Backoff time.Duration
	Timeout time.Duration

	HTTPClient *http.Client
}

type Client struct {
	log        *logger.Logger
	baseURL    string
	builder    string
	interval   time.Duration
	maxRetries int
	backoff    time.Duration
	timeout    time.Duration
	httpClient *http.Client
}

func New(log *logger.Logger, opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("baseURL required")
	}
	builder := strings.Trim(strings.TrimSpace(opts.Builder), "/")
	if builder == "" {
		builder = "annoy-indexer"
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		log:        log.With("component", "StatusPoller"),
		baseURL:    baseURL,
		builder:    builder,
		interval:   interval,
		maxRetries: maxRetries,
		backoff:    backoff,
		timeout:    timeout,
		httpClient: hc,
	}, nil
}

func NewFromEnv(log *logger.Logger) (*Client, error) {
	return New(log, Options{
		BaseURL:    envutil.String("SERVER_URI", "http://127.0.0.1:8080"),
		Builder:    envutil.String("BUILDER_NAME", "annoy-indexer"),
		Interval:   envutil.Duration("POLL_INTERVAL", time.Second),
		MaxRetries: envutil.Int("SUBMIT_MAX_RETRIES", 3),
		Backoff:    envutil.Duration("SUBMIT_BACKOFF", 2*time.Second),
		Timeout:    envutil.Duration("POLL_REQUEST_TIMEOUT", 30*time.Second),
	})
}

type setupResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	ID      string `json:"id"`
	Result  string `json:"result"`
	FileURL string `json:"fileUrl"`
	Error   string `json:"error"`
}

// Result is the terminal outcome of one build.
type Result struct {
	ID      string
	FileURL string
	Err     error
}

func (r Result) OK() bool { return r.Err == nil }

// Submit starts a build and returns its task id. Connection failures are
// retried with a linear backoff; HTTP errors are not.
func (c *Client) Submit(ctx context.Context, vendor, category string) (string, error) {
	path := "/" + c.builder + "/setup/" + url.PathEscape(vendor) + "/" + url.PathEscape(category)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}
		var resp setupResponse
		err := c.getJSON(ctx, path, &resp)
		if err == nil {
			if strings.TrimSpace(resp.ID) == "" {
				return "", ErrNoTaskID
			}
			return resp.ID, nil
		}
		var herr *HTTPError
		if errors.As(err, &herr) || ctx.Err() != nil {
			return "", err
		}
		lastErr = err
		c.log.Warn("Setup request failed, retrying", "attempt", attempt+1, "vendor", vendor, "category", category, "error", err)
	}
	return "", fmt.Errorf("connection error: could not generate task id on server: %w", lastErr)
}

// Poll reads the task status every interval until it is terminal.
func (c *Client) Poll(ctx context.Context, id string) Result {
	path := "/" + c.builder + "/status/" + url.PathEscape(id)
	for {
		var resp statusResponse
		if err := c.getJSON(ctx, path, &resp); err != nil {
			return Result{ID: id, Err: err}
		}
		switch resp.Result {
		case "running", "not started yet":
			select {
			case <-ctx.Done():
				return Result{ID: id, Err: ctx.Err()}
			case <-time.After(c.interval):
			}
		case "cancelled":
			return Result{ID: id, Err: ErrCancelled}
		case "done":
			if resp.Error != "" {
				return Result{ID: id, Err: fmt.Errorf("build failed: %s", resp.Error)}
			}
			return Result{ID: id, FileURL: resp.FileURL}
		default:
			return Result{ID: id, Err: fmt.Errorf("%w: %q", ErrUndefinedState, resp.Result)}
		}
	}
}

// Generate submits a build and waits for its outcome.
func (c *Client) Generate(ctx context.Context, vendor, category string) Result {
	id, err := c.Submit(ctx, vendor, category)
	if err != nil {
		return Result{ID: vendor + "_" + category, Err: err}
	}
	return c.Poll(ctx, id)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	ctx2, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx2, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
