package cfddns

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// DefaultInterval is the wait between the end of one reconciliation cycle and the start of the next.
const DefaultInterval = 5 * time.Minute

var discard Logger = log.New(io.Discard, "", log.LstdFlags)

// Logger is satisfied by *log.Logger and by most structured loggers.
type Logger interface {
	Printf(format string, v ...any)
}

// Target identifies one DNS record to keep pointed at the current IP.
type Target struct {
	ZoneID     string
	RecordName string
}

func (t Target) String() string {
	return fmt.Sprintf("%s (zone %s)", t.RecordName, t.ZoneID)
}

// New constructs a client that keeps every target record in sync.
//
// A DNS provider must be registered with UsingCloudflare or UsingProvider.
// Without UsingResolver or UsingWebResolver the client asks DefaultIPService for its address.
func New(targets []Target, options ...clientOption) (*Client, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("cfddns.New: %w", ErrNoTargets)
	}
	c := &Client{
		targets:     targets,
		interval:    DefaultInterval,
		concurrency: 1,
		logger:      discard,
	}
	for i, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("cfddns.New: option %d returned an error: %w", i, err)
		}
	}

	if c.Provider == nil {
		return nil, fmt.Errorf("cfddns.New: no DNS provider was registered and there is no default option - use cfddns.UsingCloudflare or similar")
	}
	if c.Resolver == nil {
		r, err := WebResolver(DefaultIPService)
		if err != nil {
			return nil, fmt.Errorf("cfddns.New: %w", err)
		}
		c.Resolver = r
	}
	if c.report == nil {
		c.report = logReport(c.logger)
	}

	// dependencies registered after WithLogger or UsingHTTPClient still need to receive them
	propagate(c)
	return c, nil
}

type clientOption func(*Client) error

// UsingCloudflare registers a Cloudflare provider authenticated with creds.
func UsingCloudflare(creds Credentials, options ...CloudflareOption) clientOption {
	return func(c *Client) (err error) {
		if c.Provider, err = NewCloudflare(creds, options...); err != nil {
			return fmt.Errorf("cfddns.UsingCloudflare: error creating cloudflare DNS provider: %w", err)
		}
		return nil
	}
}

// UsingProvider registers any Provider implementation.
func UsingProvider(provider Provider) clientOption {
	return func(c *Client) error {
		c.Provider = provider
		return nil
	}
}

func UsingResolver(resolver Resolver) clientOption {
	return func(c *Client) error {
		c.Resolver = resolver
		return nil
	}
}

func UsingWebResolver(serviceURL ...string) clientOption {
	return func(c *Client) (err error) {
		c.Resolver, err = WebResolver(serviceURL...)
		return err
	}
}

// WithLogger sets the logger used by the client and by any provider or resolver that accepts one.
func WithLogger(logger Logger) clientOption {
	return func(c *Client) error {
		if logger == nil {
			logger = discard
		}
		c.logger = logger
		return nil
	}
}

// UsingHTTPClient sets the *http.Client used by the registered provider and resolver.
func UsingHTTPClient(httpclient *http.Client) clientOption {
	return func(c *Client) error {
		c.httpClient = httpclient
		return nil
	}
}

// WithInterval sets the wait between cycles for Client.Run.
func WithInterval(interval time.Duration) clientOption {
	return func(c *Client) error {
		if interval <= 0 {
			return fmt.Errorf("interval must be positive; got %s", interval)
		}
		c.interval = interval
		return nil
	}
}

// WithConcurrency allows up to n targets to be reconciled at the same time.
// The default of 1 processes targets strictly in order.
func WithConcurrency(n int) clientOption {
	return func(c *Client) error {
		if n < 1 {
			return fmt.Errorf("concurrency must be at least 1; got %d", n)
		}
		c.concurrency = n
		return nil
	}
}

// OnReport replaces the handler that Client.Run calls after every cycle.
// The default handler writes one line per target to the client's logger.
func OnReport(fn func(Report, error)) clientOption {
	return func(c *Client) error {
		c.report = fn
		return nil
	}
}

func propagate(c *Client) {
	type setLogger interface {
		SetLogger(Logger)
	}
	type setHTTPClient interface {
		SetHTTPClient(*http.Client)
	}

	for _, dep := range []any{c.Provider, c.Resolver} {
		if l, ok := dep.(setLogger); ok {
			l.SetLogger(c.logger)
		}
		if h, ok := dep.(setHTTPClient); ok && c.httpClient != nil {
			h.SetHTTPClient(c.httpClient)
		}
	}
}

type DDNSClient interface {
	RunDDNS(ctx context.Context) (Report, error)
}

// Client reconciles a fixed set of targets.
// It is safe to call RunDDNS from multiple goroutines.
type Client struct {
	Resolver
	Provider
	logger      Logger
	httpClient  *http.Client
	targets     []Target
	interval    time.Duration
	concurrency int
	report      func(Report, error)
}

// RunDDNS runs a single reconciliation cycle.
func (c *Client) RunDDNS(ctx context.Context) (Report, error) {
	return reconcile(ctx, c.targets, c.Resolver, c.Provider, c.logger, c.concurrency)
}

// Run reconciles immediately and then again each time the interval has passed since the previous cycle ended.
// Cycle failures are passed to the report handler and never end the loop.
// Run only returns once ctx is done.
func (c *Client) Run(ctx context.Context) error {
	c.logger.Printf("reconciling %d records every %s", len(c.targets), c.interval)
	return loop(ctx, c, c.interval, c.report)
}

func loop(ctx context.Context, ddnsClient DDNSClient, interval time.Duration, handle func(Report, error)) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		handle(ddnsClient.RunDDNS(ctx))
		timer.Reset(interval)
	}
}

func logReport(logger Logger) func(Report, error) {
	return func(r Report, err error) {
		if err != nil {
			logger.Printf("skipping cycle: %s", err)
			return
		}
		for _, o := range r.Outcomes {
			logger.Printf("%s", o)
		}
	}
}

// RunDaemon starts ddnsClient as a goroutine.
//
// The first cycle runs right away and intervals shorter than a minute are raised to one minute.
// A nil logger for a *Client indicates that the daemon should send its output to the logger configured in the client.
// Otherwise the default is to discard log messages.
func RunDaemon(ddnsClient DDNSClient, ctx context.Context, interval time.Duration, logger Logger) {
	if interval < 1*time.Minute {
		interval = 1 * time.Minute
	}
	if logger == nil {
		if c, ok := ddnsClient.(*Client); ok && c.logger != nil {
			logger = c.logger
		} else {
			logger = discard
		}
	}
	go func() {
		if err := loop(ctx, ddnsClient, interval, logReport(logger)); err != nil {
			logger.Printf("cfddns.RunDaemon: %s", err)
		}
	}()
}
