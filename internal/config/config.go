// Package config loads the cfddns configuration from a JSON or YAML file,
// an optional dotenv file and CFDDNS_* environment variables, in that order of precedence.
package config

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Travis-Britz/cfddns"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name, e.g. CFDDNS_CLOUDFLARE_AUTH_KEY.
const EnvPrefix = "CFDDNS"

type Config struct {
	Cloudflare     Cloudflare `json:"cloudflare" yaml:"cloudflare"`
	Interval       Duration   `json:"interval" yaml:"interval" envconfig:"INTERVAL"`
	RequestTimeout Duration   `json:"requestTimeout" yaml:"requestTimeout" envconfig:"REQUEST_TIMEOUT"`
	IPServices     []string   `json:"ipServices" yaml:"ipServices" envconfig:"IP_SERVICES"`
	StaticIP       string     `json:"staticIP" yaml:"staticIP" envconfig:"STATIC_IP"`
	Interfaces     []string   `json:"interfaces" yaml:"interfaces" envconfig:"INTERFACES"`
	Concurrency    int        `json:"concurrency" yaml:"concurrency" envconfig:"CONCURRENCY"`
}

type Cloudflare struct {
	AuthEmail   string `json:"authEmail" yaml:"authEmail" envconfig:"AUTH_EMAIL"`
	AuthKey     string `json:"authKey" yaml:"authKey" envconfig:"AUTH_KEY"`
	AuthKeyFile string `json:"authKeyFile" yaml:"authKeyFile" envconfig:"AUTH_KEY_FILE"`
	APIToken    string `json:"apiToken" yaml:"apiToken" envconfig:"API_TOKEN"`
	BaseURL     string `json:"baseURL" yaml:"baseURL" envconfig:"BASE_URL"`
	Zones       Zones  `json:"zones" yaml:"zones" envconfig:"ZONES"`
}

type Zone struct {
	ZoneID     string `json:"zoneId" yaml:"zoneId"`
	RecordName string `json:"recordName" yaml:"recordName"`
}

// Zones decodes from an environment variable in the form "zoneID:recordName,zoneID:recordName".
type Zones []Zone

func (z *Zones) Decode(value string) error {
	var zones Zones
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, name, ok := strings.Cut(pair, ":")
		if !ok || id == "" || name == "" {
			return fmt.Errorf("invalid zone %q: expected zoneID:recordName", pair)
		}
		zones = append(zones, Zone{ZoneID: id, RecordName: name})
	}
	*z = zones
	return nil
}

// Duration is a time.Duration written as a string like "5m" in files and environment variables.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used for anything the file and environment leave unset.
func Default() *Config {
	return &Config{
		Cloudflare: Cloudflare{
			BaseURL: cfddns.DefaultCloudflareBaseURL,
		},
		Interval:       Duration{cfddns.DefaultInterval},
		RequestTimeout: Duration{cfddns.DefaultRequestTimeout},
		IPServices:     []string{cfddns.DefaultIPService},
		Concurrency:    1,
	}
}

// Load reads the config file at path, if path is not empty, then the dotenv file at envFile, if not empty,
// and finally applies CFDDNS_* environment overrides.
// A key file is only read when no key was given directly.
// Its permissions must be 0600 or 0400.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("error loading env file %s: %w", envFile, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error reading environment: %w", err)
	}

	if cfg.Cloudflare.AuthKey == "" && cfg.Cloudflare.AuthKeyFile != "" {
		// a missing key file is left for interactive setup or Validate to deal with
		if _, err := os.Stat(cfg.Cloudflare.AuthKeyFile); errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		if err := VerifyPermissions(cfg.Cloudflare.AuthKeyFile); err != nil {
			return nil, err
		}
		key, err := ReadKey(cfg.Cloudflare.AuthKeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Cloudflare.AuthKey = key
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	// an empty file is valid so the environment can carry everything
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	return nil
}

// Validate reports every problem that would stop the updater from running.
func (c *Config) Validate() error {
	var errs []error
	cf := c.Cloudflare
	if cf.APIToken == "" && (cf.AuthEmail == "" || cf.AuthKey == "") {
		errs = append(errs, errors.New("either cloudflare.apiToken or both cloudflare.authEmail and cloudflare.authKey must be set"))
	}
	if len(cf.Zones) == 0 {
		errs = append(errs, errors.New("at least one zone must be configured"))
	}
	for i, z := range cf.Zones {
		if z.ZoneID == "" {
			errs = append(errs, fmt.Errorf("zone %d: zoneId cannot be empty", i))
		}
		if z.RecordName == "" {
			errs = append(errs, fmt.Errorf("zone %d: recordName cannot be empty", i))
		} else if !strings.Contains(z.RecordName, ".") {
			errs = append(errs, fmt.Errorf("zone %d: recordName %q must have at least one dot", i, z.RecordName))
		}
	}
	if c.Interval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive; got %s", c.Interval))
	}
	if c.RequestTimeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("requestTimeout must be positive; got %s", c.RequestTimeout))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1; got %d", c.Concurrency))
	}
	if c.StaticIP == "" && len(c.Interfaces) == 0 && len(c.IPServices) == 0 {
		errs = append(errs, errors.New("no way to find the public IP: set ipServices, interfaces or staticIP"))
	}
	return errors.Join(errs...)
}

func (c *Config) Credentials() cfddns.Credentials {
	return cfddns.Credentials{
		Email: c.Cloudflare.AuthEmail,
		Key:   c.Cloudflare.AuthKey,
		Token: c.Cloudflare.APIToken,
	}
}

func (c *Config) Targets() []cfddns.Target {
	targets := make([]cfddns.Target, 0, len(c.Cloudflare.Zones))
	for _, z := range c.Cloudflare.Zones {
		targets = append(targets, cfddns.Target{ZoneID: z.ZoneID, RecordName: z.RecordName})
	}
	return targets
}

// ReadKey returns the first line of the key file at path.
func ReadKey(path string) (key string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error reading key: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	keyb, _, err := r.ReadLine()
	if err != nil {
		return "", fmt.Errorf("error reading line: %w", err)
	}
	return strings.TrimSpace(string(keyb)), nil
}

// WriteKey creates a new key file readable only by its owner.
func WriteKey(path, key string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("unable to create \"%s\": %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, key); err != nil {
		return fmt.Errorf("unable to write \"%s\": %w", path, err)
	}
	return nil
}

// VerifyPermissions rejects key files that anyone but the owner could read.
func VerifyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("error checking keyfile permissions: %w", err)
	}

	perms := info.Mode().Perm()
	// Error messages will state that we want 0600,
	// but we'll also accept 0400 which is even more restricted.
	// The file might be provided by some secrets managing software as readonly.
	if perms != 0600 && perms != 0400 {
		return fmt.Errorf("invalid permissions for \"%s\": expected file permissions \"-rw-------\"; found \"%s\"", path, fs.FileMode(perms))
	}
	return nil
}
