// Package pulsekit is a Go client for the PulseKit ingestion API.
//
// A Client queues events and sends them in the background: one queued event
// goes to POST /api/v1/events, several go to POST /api/v1/events/batch.
//
//	client, err := pulsekit.NewClient(pulsekit.Config{
//		Endpoint: "https://pulsekit.example.com",
//		APIKey:   os.Getenv("PULSEKIT_API_KEY"),
//	})
//	if err != nil {
//		return err
//	}
//	defer client.Close(context.Background())
//
//	client.CaptureException(err, pulsekit.WithTags(map[string]string{"route": "/checkout"}))
package pulsekit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

const (
	KeyHeader = "X-PulseKit-Key"

	defaultBatchSize     = 10
	defaultFlushInterval = 5 * time.Second
	defaultTimeout       = 10 * time.Second
	defaultEnvironment   = "production"
)

// Sentinel errors for delivery failures.
var (
	ErrClosed      = errors.New("pulsekit client closed")
	ErrUnreachable = errors.New("pulsekit unreachable")
	ErrTimeout     = errors.New("pulsekit request timeout")
	ErrRejected    = errors.New("pulsekit rejected events")
)

// Config configures a Client. Endpoint and APIKey are required.
type Config struct {
	Endpoint    string
	APIKey      string
	Environment string
	Release     string

	// BatchSize is the queue length that triggers a background flush.
	BatchSize     int
	FlushInterval time.Duration

	// HTTPClient overrides the default client with a 10s timeout.
	HTTPClient *http.Client

	// Compress gzips request bodies.
	Compress bool

	// OnError receives failures from background flushes together with the
	// number of events that were dropped.
	OnError func(err error, dropped int)
}

// Client queues events and delivers them to a PulseKit server. It is safe for
// concurrent use.
type Client struct {
	cfg    Config
	client *http.Client
	now    func() time.Time

	mu     sync.Mutex
	queue  []Event
	closed bool

	sendMu  sync.Mutex
	trigger chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewClient validates cfg, applies defaults and starts the flush loop.
func NewClient(cfg Config) (*Client, error) {
	cfg.Endpoint = strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if cfg.Endpoint == "" {
		return nil, errors.New("pulsekit: endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("pulsekit: api key is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.Environment == "" {
		cfg.Environment = defaultEnvironment
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	c := &Client{
		cfg:     cfg,
		client:  httpClient,
		now:     time.Now,
		queue:   make([]Event, 0, cfg.BatchSize),
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.loop()
	return c, nil
}

// Capture queues e. Events captured after Close are dropped.
func (c *Client) Capture(e Event, opts ...EventOption) {
	for _, opt := range opts {
		opt(&e)
	}
	c.enqueue(e)
}

// CaptureMessage queues a message event.
func (c *Client) CaptureMessage(message string, level Level, opts ...EventOption) {
	c.Capture(Event{Type: "message", Level: level, Message: message}, opts...)
}

// CaptureException queues err as an error event with the caller's stack.
// A nil err is ignored.
func (c *Client) CaptureException(err error, opts ...EventOption) {
	if err == nil {
		return
	}
	c.Capture(Event{
		Type:       errorType(err),
		Level:      LevelError,
		Message:    err.Error(),
		Stacktrace: captureStack(3),
	}, opts...)
}

// Flush sends every queued event and reports the delivery error, if any.
func (c *Client) Flush(ctx context.Context) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	events := c.queue
	c.queue = make([]Event, 0, c.cfg.BatchSize)
	c.mu.Unlock()

	if len(events) == 0 {
		return nil
	}
	return c.send(ctx, events)
}

// Close stops the flush loop and sends what is still queued. It is safe to
// call more than once.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.done)
		c.wg.Wait()
		err = c.Flush(ctx)
	})
	return err
}

func (c *Client) enqueue(e Event) {
	if e.Timestamp == "" {
		e.Timestamp = c.now().UTC().Format(time.RFC3339Nano)
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}
	if e.Environment == "" {
		e.Environment = c.cfg.Environment
	}
	if e.Release == "" {
		e.Release = c.cfg.Release
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.report(ErrClosed, 1)
		return
	}
	c.queue = append(c.queue, e)
	full := len(c.queue) >= c.cfg.BatchSize
	c.mu.Unlock()

	if full {
		select {
		case c.trigger <- struct{}{}:
		default:
		}
	}
}

func (c *Client) loop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		case <-c.trigger:
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FlushInterval+defaultTimeout)
		_ = c.Flush(ctx)
		cancel()
	}
}

func (c *Client) send(ctx context.Context, events []Event) error {
	url := c.cfg.Endpoint + "/api/v1/events"
	var body any = events[0]
	if len(events) > 1 {
		url += "/batch"
		body = struct {
			Events []Event `json:"events"`
		}{events}
	}

	payload, err := c.encode(body)
	if err != nil {
		c.report(err, len(events))
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		err = fmt.Errorf("building request: %w", err)
		c.report(err, len(events))
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(KeyHeader, c.cfg.APIKey)
	if c.cfg.Compress {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		err = classifyError(err)
		c.report(err, len(events))
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
		c.report(err, len(events))
		return err
	}
	return nil
}

func (c *Client) encode(body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding events: %w", err)
	}
	if !c.cfg.Compress {
		return raw, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compressing events: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing events: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Client) report(err error, dropped int) {
	if c.cfg.OnError != nil {
		c.cfg.OnError(err, dropped)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
