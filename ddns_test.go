package cfddns_test

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Travis-Britz/cfddns"
)

// settableProvider records what New passed to its setter methods.
type settableProvider struct {
	*fakeProvider
	logger     cfddns.Logger
	httpClient *http.Client
}

func (p *settableProvider) SetLogger(l cfddns.Logger) { p.logger = l }
func (p *settableProvider) SetHTTPClient(h *http.Client) { p.httpClient = h }

type printfCounter struct{ n atomic.Int32 }

func (p *printfCounter) Printf(string, ...any) { p.n.Add(1) }

func TestPropagate(t *testing.T) {
	logger := &printfCounter{}
	hc := &http.Client{}
	p := &settableProvider{fakeProvider: newFakeProvider(nil)}

	// options given before the provider still reach it
	_, err := cfddns.New(twoTargets,
		cfddns.WithLogger(logger),
		cfddns.UsingHTTPClient(hc),
		cfddns.UsingProvider(p),
		cfddns.UsingResolver(staticResolver("203.0.113.5")),
	)
	if err != nil {
		t.Fatalf("New failed: %s", err)
	}
	if p.logger != logger {
		t.Fatalf("Expected provider to receive the client logger")
	}
	if p.httpClient != hc {
		t.Fatalf("Expected provider to receive the client http.Client")
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	p := newFakeProvider(nil)
	tests := map[string]func() error{
		"zero interval": func() error {
			_, err := cfddns.New(twoTargets, cfddns.UsingProvider(p), cfddns.WithInterval(0))
			return err
		},
		"zero concurrency": func() error {
			_, err := cfddns.New(twoTargets, cfddns.UsingProvider(p), cfddns.WithConcurrency(0))
			return err
		},
		"no web services": func() error {
			_, err := cfddns.New(twoTargets, cfddns.UsingProvider(p), cfddns.UsingWebResolver())
			return err
		},
		"no credentials": func() error {
			_, err := cfddns.New(twoTargets, cfddns.UsingCloudflare(cfddns.Credentials{}))
			return err
		},
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			if err := fn(); err == nil {
				t.Fatalf("Expected an error; got err == nil")
			}
		})
	}
}

func TestRunReturnsWhenCanceled(t *testing.T) {
	c, err := cfddns.New(twoTargets,
		cfddns.UsingProvider(newFakeProvider(nil)),
		cfddns.UsingResolver(staticResolver("203.0.113.5")),
		cfddns.WithInterval(time.Hour),
		cfddns.OnReport(func(cfddns.Report, error) {}),
	)
	if err != nil {
		t.Fatalf("New failed: %s", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := c.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected %q; got %q", context.DeadlineExceeded, err)
	}
}

type countingClient struct{ runs atomic.Int32 }

func (c *countingClient) RunDDNS(context.Context) (cfddns.Report, error) {
	c.runs.Add(1)
	return cfddns.Report{}, nil
}

func TestRunDaemon(t *testing.T) {
	dc := &countingClient{}
	logger := &printfCounter{}
	ctx, cancel := context.WithCancel(context.Background())

	// an interval below the minimum is raised, so only the immediate first cycle fits in this test
	cfddns.RunDaemon(dc, ctx, time.Millisecond, logger)
	time.Sleep(100 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	if got := dc.runs.Load(); got != 1 {
		t.Fatalf("Expected 1 run; got %d", got)
	}
	// the daemon logs why it stopped
	if logger.n.Load() == 0 {
		t.Fatalf("Expected the daemon to log after cancellation")
	}
}

func TestOutcomeString(t *testing.T) {
	target := cfddns.Target{ZoneID: "zoneA", RecordName: "home.example.com"}
	tests := []struct {
		outcome  cfddns.Outcome
		expected string
	}{
		{cfddns.Outcome{Target: target, Status: cfddns.StatusUpdated, Response: `{"success":true}`}, `Updated DNS record home.example.com: {"success":true}`},
		{cfddns.Outcome{Target: target, Status: cfddns.StatusRejected, Response: `{"success":false}`}, `Update of DNS record home.example.com was not accepted: {"success":false}`},
		{cfddns.Outcome{Target: target, Status: cfddns.StatusNotFound}, `No DNS record found for home.example.com`},
		{cfddns.Outcome{Target: target, Status: cfddns.StatusFailed, Err: errors.New("boom")}, `Error updating DNS record home.example.com: boom`},
	}
	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.expected {
			t.Errorf("Expected %q; got %q", tt.expected, got)
		}
	}
	if expected, got := "home.example.com (zone zoneA)", target.String(); expected != got {
		t.Errorf("Expected %q; got %q", expected, got)
	}
}

func TestStatusString(t *testing.T) {
	for s, expected := range map[cfddns.Status]string{
		cfddns.StatusUpdated:  "updated",
		cfddns.StatusRejected: "rejected",
		cfddns.StatusNotFound: "not found",
		cfddns.StatusFailed:   "failed",
		cfddns.Status(42):     "Status(42)",
	} {
		if got := s.String(); got != expected {
			t.Errorf("Expected %q; got %q", expected, got)
		}
	}
}
