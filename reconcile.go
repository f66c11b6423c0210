package cfddns

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"golang.org/x/sync/errgroup"
)

// ErrNoTargets is returned when a client is created without any records to manage.
var ErrNoTargets = errors.New("no target records were given")

// Status classifies what happened to a single target during a cycle.
type Status int

const (
	// StatusUpdated means the provider accepted the new content.
	StatusUpdated Status = iota
	// StatusRejected means the update request completed but the provider did not report success.
	StatusRejected
	// StatusNotFound means no record matched the target, so nothing was written.
	StatusNotFound
	// StatusFailed means the lookup or update could not be completed.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusUpdated:
		return "updated"
	case StatusRejected:
		return "rejected"
	case StatusNotFound:
		return "not found"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Outcome is the result of reconciling one target.
type Outcome struct {
	Target   Target
	Status   Status
	RecordID string
	Response string // raw provider response to the update, if one was sent
	Err      error
}

func (o Outcome) String() string {
	switch o.Status {
	case StatusUpdated:
		return fmt.Sprintf("Updated DNS record %s: %s", o.Target.RecordName, o.Response)
	case StatusRejected:
		return fmt.Sprintf("Update of DNS record %s was not accepted: %s", o.Target.RecordName, o.Response)
	case StatusNotFound:
		return fmt.Sprintf("No DNS record found for %s", o.Target.RecordName)
	}
	return fmt.Sprintf("Error updating DNS record %s: %s", o.Target.RecordName, o.Err)
}

// Report collects the outcomes of one cycle, in the order the targets were given.
type Report struct {
	IP       netip.Addr
	Outcomes []Outcome
}

// Count returns how many outcomes have the given status.
func (r Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Reconcile runs one cycle: it resolves the current address and then points every target at it, one target at a time.
//
// The returned error is only non-nil when the address could not be resolved,
// in which case the provider is never called.
// Per-target problems are reported in the Report instead.
func Reconcile(ctx context.Context, targets []Target, resolver Resolver, provider Provider, logger Logger) (Report, error) {
	if logger == nil {
		logger = discard
	}
	return reconcile(ctx, targets, resolver, provider, logger, 1)
}

func reconcile(ctx context.Context, targets []Target, resolver Resolver, provider Provider, logger Logger, workers int) (Report, error) {
	ip, err := resolver.Resolve(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("error getting public IP: %w", err)
	}
	ip = ip.Unmap()
	if !ip.Is4() {
		return Report{}, fmt.Errorf("resolved address %s is not an IPv4 address", ip)
	}
	logger.Printf("got public IP: %s", ip)

	report := Report{IP: ip, Outcomes: make([]Outcome, len(targets))}
	if workers <= 1 {
		for i, t := range targets {
			report.Outcomes[i] = reconcileTarget(ctx, provider, t, ip.String(), logger)
		}
		return report, nil
	}

	// each goroutine writes only its own slot
	var g errgroup.Group
	g.SetLimit(workers)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			report.Outcomes[i] = reconcileTarget(ctx, provider, t, ip.String(), logger)
			return nil
		})
	}
	_ = g.Wait()
	return report, nil
}

type responseChecker interface {
	Accepted(response string) bool
}

func reconcileTarget(ctx context.Context, provider Provider, t Target, content string, logger Logger) Outcome {
	o := Outcome{Target: t}

	logger.Printf("looking up A record %s in zone %s...", t.RecordName, t.ZoneID)
	id, err := provider.FindRecordID(ctx, t.ZoneID, t.RecordName, "A")
	switch {
	case errors.Is(err, ErrRecordNotFound):
		o.Status = StatusNotFound
		o.Err = err
		return o
	case err != nil:
		o.Status = StatusFailed
		o.Err = fmt.Errorf("error looking up record ID: %w", err)
		return o
	}
	o.RecordID = id

	logger.Printf("setting record %s to %s...", id, content)
	o.Response, err = provider.UpdateRecordContent(ctx, t.ZoneID, id, t.RecordName, content)
	if err != nil {
		o.Status = StatusFailed
		o.Err = fmt.Errorf("error updating record %s: %w", id, err)
		return o
	}

	o.Status = StatusUpdated
	if rc, ok := provider.(responseChecker); ok && !rc.Accepted(o.Response) {
		o.Status = StatusRejected
	}
	return o
}
