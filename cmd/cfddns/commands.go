package main

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"text/tabwriter"

	"github.com/Travis-Britz/cfddns"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRunCommand(logger *logrus.Logger, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Reconcile every configured record now and then on every interval until stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, logger, opts)
		},
	}
}

func runDaemon(cmd *cobra.Command, logger *logrus.Logger, opts *options) error {
	cfg, err := loadConfig(cmd, logger, opts)
	if err != nil {
		return err
	}
	client, err := newClient(cfg, opts, logger)
	if err != nil {
		return err
	}

	logger.WithField("interval", cfg.Interval.String()).Info("starting")
	err = client.Run(cmd.Context())
	if errors.Is(err, context.Canceled) {
		logger.Info("stopped")
		return nil
	}
	return err
}

func newOnceCommand(logger *logrus.Logger, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single reconciliation cycle",
		Long: "Run a single reconciliation cycle.\n\n" +
			"Exits non-zero when the public IP cannot be resolved or any record was not updated.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, logger, opts)
			if err != nil {
				return err
			}
			client, err := newClient(cfg, opts, logger)
			if err != nil {
				return err
			}

			report, err := client.RunDDNS(cmd.Context())
			reportTo(logger)(report, err)
			if err != nil {
				return err
			}
			if n := len(report.Outcomes) - report.Count(cfddns.StatusUpdated); n > 0 {
				return fmt.Errorf("%d of %d records were not updated", n, len(report.Outcomes))
			}
			return nil
		},
	}
}

func newVerifyCommand(logger *logrus.Logger, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that the configured Cloudflare credentials are accepted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, logger, opts)
			if err != nil {
				return err
			}
			provider, err := newProvider(cfg, opts)
			if err != nil {
				return err
			}
			logger.Debug("verifying credentials...")
			who, err := provider.Verify(cmd.Context())
			if err != nil {
				return err
			}
			logger.WithField("account", who).Info("credentials verified successfully")
			return nil
		},
	}
}

func newStatusCommand(logger *logrus.Logger, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show each configured record next to the current public IP without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, logger, opts)
			if err != nil {
				return err
			}
			provider, err := newProvider(cfg, opts)
			if err != nil {
				return err
			}
			resolver, err := newResolver(cfg, opts)
			if err != nil {
				return err
			}

			ip, err := resolver.Resolve(cmd.Context())
			if err != nil {
				return fmt.Errorf("error getting public IP: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "public IP: %s\n\n", ip)
			fmt.Fprintln(w, "RECORD\tZONE\tCONTENT\tSTATE")
			zones := map[string][]cfddns.Record{}
			for _, t := range cfg.Targets() {
				records, ok := zones[t.ZoneID]
				if !ok {
					records, err = provider.ListRecords(cmd.Context(), t.ZoneID)
					if err != nil {
						logger.WithError(err).WithField("zone", t.ZoneID).Error("unable to list records")
						fmt.Fprintf(w, "%s\t%s\t-\terror\n", t.RecordName, t.ZoneID)
						continue
					}
					zones[t.ZoneID] = records
				}
				content, state := recordState(records, t.RecordName, ip)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.RecordName, t.ZoneID, content, state)
			}
			return w.Flush()
		},
	}
}

// recordState compares the named record's content with ip.
// It returns "in sync", "drift" or "missing", along with the content found, if any.
func recordState(records []cfddns.Record, name string, ip netip.Addr) (content, state string) {
	for _, r := range records {
		if r.Name != name {
			continue
		}
		if r.Content == ip.String() {
			return r.Content, "in sync"
		}
		return r.Content, "drift"
	}
	return "-", "missing"
}
