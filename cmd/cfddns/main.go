package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Travis-Britz/cfddns"
	"github.com/Travis-Britz/cfddns/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	envFile    string
	verbose    bool
	logFormat  string
	staticIP   string

	// httpClient, when set, is used for every request instead of the pooled default.
	httpClient *http.Client
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(&options{}).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(opts *options) *cobra.Command {
	logger := logrus.New()

	cmd := &cobra.Command{
		Use:          "cfddns",
		Short:        "Keep Cloudflare A records pointed at this host's public IP",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger.SetOutput(cmd.ErrOrStderr())
			return configureLogger(logger, opts)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, logger, opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "config.json", "Path to a JSON or YAML config file")
	flags.StringVar(&opts.envFile, "env-file", "", "Path to a dotenv file with CFDDNS_* variables")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")
	flags.StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	flags.StringVar(&opts.staticIP, "ip", "", "IP address to set instead of looking it up")

	cmd.AddCommand(
		newRunCommand(logger, opts),
		newOnceCommand(logger, opts),
		newVerifyCommand(logger, opts),
		newStatusCommand(logger, opts),
	)
	return cmd
}

func configureLogger(logger *logrus.Logger, opts *options) error {
	switch opts.logFormat {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", opts.logFormat)
	}
	logger.SetLevel(logrus.InfoLevel)
	if opts.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return nil
}

// loadConfig reads the configuration, prompting for a missing key when attached to a terminal.
// A missing config file is only an error when --config was given explicitly.
func loadConfig(cmd *cobra.Command, logger *logrus.Logger, opts *options) (*config.Config, error) {
	path := opts.configPath
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		logger.Debugf("config file %q does not exist; using environment only", path)
		path = ""
	}

	cfg, err := config.Load(path, opts.envFile)
	if err != nil {
		return nil, err
	}
	if err := promptForKey(cmd, logger, cfg); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"zones":    len(cfg.Cloudflare.Zones),
		"interval": cfg.Interval.String(),
	}).Debug("config is valid")
	return cfg, nil
}

func newProvider(cfg *config.Config, opts *options) (*cfddns.Cloudflare, error) {
	cfOptions := []cfddns.CloudflareOption{
		cfddns.CloudflareBaseURL(cfg.Cloudflare.BaseURL),
		cfddns.CloudflareTimeout(cfg.RequestTimeout.Duration),
	}
	if opts.httpClient != nil {
		cfOptions = append(cfOptions, cfddns.CloudflareHTTPClient(opts.httpClient))
	}
	return cfddns.NewCloudflare(cfg.Credentials(), cfOptions...)
}

func newResolver(cfg *config.Config, opts *options) (cfddns.Resolver, error) {
	r, err := pickResolver(cfg, opts)
	if err != nil {
		return nil, err
	}
	if hc, ok := r.(interface{ SetHTTPClient(*http.Client) }); ok && opts.httpClient != nil {
		hc.SetHTTPClient(opts.httpClient)
	}
	return r, nil
}

// pickResolver prefers --ip, then staticIP, then interfaces, then the web services.
func pickResolver(cfg *config.Config, opts *options) (cfddns.Resolver, error) {
	switch {
	case opts.staticIP != "":
		return cfddns.FromString(opts.staticIP)
	case cfg.StaticIP != "":
		return cfddns.FromString(cfg.StaticIP)
	case len(cfg.Interfaces) > 0:
		return cfddns.InterfaceResolver(cfg.Interfaces...), nil
	}
	return cfddns.WebResolver(cfg.IPServices...)
}

func newClient(cfg *config.Config, opts *options, logger *logrus.Logger) (*cfddns.Client, error) {
	provider, err := newProvider(cfg, opts)
	if err != nil {
		return nil, err
	}
	resolver, err := newResolver(cfg, opts)
	if err != nil {
		return nil, err
	}
	client, err := cfddns.New(cfg.Targets(),
		cfddns.UsingProvider(provider),
		cfddns.UsingResolver(resolver),
		cfddns.WithLogger(debugLogger{logger.WithField("component", "cfddns")}),
		cfddns.WithInterval(cfg.Interval.Duration),
		cfddns.WithConcurrency(cfg.Concurrency),
		cfddns.OnReport(reportTo(logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating cfddns.Client: %w", err)
	}
	return client, nil
}

// debugLogger sends the library's progress messages to the debug level.
type debugLogger struct {
	*logrus.Entry
}

func (l debugLogger) Printf(format string, v ...any) {
	l.Debugf(format, v...)
}

func reportTo(logger *logrus.Logger) func(cfddns.Report, error) {
	return func(r cfddns.Report, err error) {
		if err != nil {
			logger.WithError(err).Error("skipping cycle")
			return
		}
		for _, o := range r.Outcomes {
			entry := logger.WithFields(logrus.Fields{
				"zone":   o.Target.ZoneID,
				"record": o.Target.RecordName,
				"status": o.Status.String(),
			})
			switch o.Status {
			case cfddns.StatusUpdated:
				entry.WithField("id", o.RecordID).Info(o.String())
			case cfddns.StatusRejected, cfddns.StatusNotFound:
				entry.Warn(o.String())
			default:
				entry.Error(o.String())
			}
		}
		logger.WithFields(logrus.Fields{
			"ip":      r.IP.String(),
			"updated": r.Count(cfddns.StatusUpdated),
			"targets": len(r.Outcomes),
		}).Info("cycle complete")
	}
}
