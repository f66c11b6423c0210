package cfddns

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/hashicorp/go-cleanhttp"
)

const (
	// DefaultCloudflareBaseURL is the root of the Cloudflare v4 API.
	DefaultCloudflareBaseURL = "https://api.cloudflare.com/client/v4"

	// DefaultRequestTimeout bounds every request made to the provider.
	DefaultRequestTimeout = 30 * time.Second

	// automaticTTL asks Cloudflare to pick the TTL.
	automaticTTL = 1

	// listPageSize matches the records endpoint's default page size.
	listPageSize = 100
)

var (
	// ErrRecordNotFound means the provider answered and has no matching record.
	ErrRecordNotFound = errors.New("record not found")
	// ErrInvalidResponse means a response body could not be decoded.
	ErrInvalidResponse = errors.New("invalid response from provider")
)

// Credentials authenticate requests to the Cloudflare API.
// Either Token, or both Email and Key, must be set.
// Token takes precedence when all three are present.
type Credentials struct {
	Email string
	Key   string
	Token string
}

func (c Credentials) validate() error {
	if c.Token != "" || (c.Email != "" && c.Key != "") {
		return nil
	}
	return errors.New("either an API token or both an auth email and an auth key are required")
}

// CloudflareOption configures a provider created by NewCloudflare.
type CloudflareOption func(*Cloudflare) error

// CloudflareBaseURL points the provider at a different API root.
func CloudflareBaseURL(baseURL string) CloudflareOption {
	return func(cf *Cloudflare) (err error) {
		cf.baseURL, err = url.Parse(baseURL)
		if err != nil {
			return fmt.Errorf("error parsing base URL: %w", err)
		}
		return nil
	}
}

// CloudflareTimeout sets the per-request timeout.
func CloudflareTimeout(timeout time.Duration) CloudflareOption {
	return func(cf *Cloudflare) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive; got %s", timeout)
		}
		cf.timeout = timeout
		return nil
	}
}

// CloudflareHTTPClient replaces the pooled default client.
func CloudflareHTTPClient(httpclient *http.Client) CloudflareOption {
	return func(cf *Cloudflare) error {
		cf.httpClient = httpclient
		return nil
	}
}

// NewCloudflare constructs a Cloudflare provider.
func NewCloudflare(creds Credentials, options ...CloudflareOption) (cf *Cloudflare, err error) {
	if err := creds.validate(); err != nil {
		return nil, err
	}
	cf = &Cloudflare{
		creds:      creds,
		httpClient: cleanhttp.DefaultPooledClient(),
		timeout:    DefaultRequestTimeout,
		logger:     discard,
	}
	if err := CloudflareBaseURL(DefaultCloudflareBaseURL)(cf); err != nil {
		return nil, err
	}
	for _, opt := range options {
		if err := opt(cf); err != nil {
			return nil, err
		}
	}

	sdkOptions := []cloudflare.Option{
		cloudflare.BaseURL(cf.baseURL.String()),
		cloudflare.HTTPClient(cf.httpClient),
	}
	if creds.Token != "" {
		cf.api, err = cloudflare.NewWithAPIToken(creds.Token, sdkOptions...)
	} else {
		cf.api, err = cloudflare.New(creds.Key, creds.Email, sdkOptions...)
	}
	if err != nil {
		return nil, fmt.Errorf("error creating cloudflare api client: %w", err)
	}
	return cf, nil
}

// Cloudflare implements Provider against the Cloudflare v4 API.
//
// Record lookups and updates speak the wire protocol directly,
// because callers need the success flag, the result count and the raw update response,
// all of which the SDK consumes internally.
// Verification and record listing go through the SDK.
//
// It should be constructed using NewCloudflare.
type Cloudflare struct {
	api        *cloudflare.API
	creds      Credentials
	baseURL    *url.URL
	httpClient *http.Client
	timeout    time.Duration
	logger     Logger
}

// SetLogger is called by New to share the client's logger.
func (cf *Cloudflare) SetLogger(logger Logger) {
	cf.logger = logger
}

// SetHTTPClient is called by New when UsingHTTPClient was given.
// The SDK client is switched over as well.
func (cf *Cloudflare) SetHTTPClient(httpclient *http.Client) {
	if httpclient == nil {
		return
	}
	cf.httpClient = httpclient
	cloudflare.HTTPClient(httpclient)(cf.api)
}

type recordsResponse struct {
	cloudflare.Response
	Result     []cloudflare.DNSRecord `json:"result"`
	ResultInfo cloudflare.ResultInfo  `json:"result_info"`
}

type recordUpdate struct {
	Content string `json:"content"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	TTL     int    `json:"ttl"`
}

// FindRecordID implements Provider.
//
// It first asks the API to filter by name and type.
// If that request is not successful or matches nothing,
// the zone's full record list is fetched page by page and scanned for an exact, case-sensitive match.
// A transport error on either request is returned as is; only an answer from the provider can mean ErrRecordNotFound.
func (cf *Cloudflare) FindRecordID(ctx context.Context, zoneID, name, recordType string) (string, error) {
	if recordType == "" {
		recordType = "A"
	}

	filtered, err := cf.listRecords(ctx, zoneID, url.Values{"type": {recordType}, "name": {name}})
	switch {
	case errors.Is(err, ErrInvalidResponse):
		cf.logger.Printf("filtered lookup for %s returned an unreadable response: %s", name, err)
	case err != nil:
		return "", fmt.Errorf("error looking up %s record %s: %w", recordType, name, err)
	case filtered.Success && filtered.ResultInfo.Count > 0 && len(filtered.Result) > 0:
		return filtered.Result[0].ID, nil
	}

	cf.logger.Printf("filtered lookup found no %s record for %s; scanning all records in zone %s", recordType, name, zoneID)
	for page := 1; ; page++ {
		all, err := cf.listRecords(ctx, zoneID, url.Values{
			"page":     {strconv.Itoa(page)},
			"per_page": {strconv.Itoa(listPageSize)},
		})
		if err != nil {
			return "", fmt.Errorf("error listing records for zone %s: %w", zoneID, err)
		}
		if !all.Success {
			break
		}
		for _, r := range all.Result {
			if r.Name == name && r.Type == recordType {
				return r.ID, nil
			}
		}
		if page >= all.ResultInfo.TotalPages || len(all.Result) == 0 {
			break
		}
	}
	return "", fmt.Errorf("%s record %s in zone %s: %w", recordType, name, zoneID, ErrRecordNotFound)
}

// UpdateRecordContent implements Provider.
// The record is replaced as a whole: type A, automatic TTL, the given name and content.
func (cf *Cloudflare) UpdateRecordContent(ctx context.Context, zoneID, recordID, name, content string) (string, error) {
	u := cf.baseURL.JoinPath("zones", zoneID, "dns_records", recordID)
	body, err := cf.do(ctx, http.MethodPut, u, recordUpdate{
		Content: content,
		Name:    name,
		Type:    "A",
		TTL:     automaticTTL,
	})
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Accepted reports whether an update response body carries success:true.
func (cf *Cloudflare) Accepted(response string) bool {
	var r cloudflare.Response
	if err := json.Unmarshal([]byte(response), &r); err != nil {
		return false
	}
	return r.Success
}

func (cf *Cloudflare) listRecords(ctx context.Context, zoneID string, query url.Values) (*recordsResponse, error) {
	u := cf.baseURL.JoinPath("zones", zoneID, "dns_records")
	u.RawQuery = query.Encode()

	body, err := cf.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var result recordsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidResponse, err)
	}
	return &result, nil
}

// do sends one authenticated request and returns the response body.
// The HTTP status is not checked; Cloudflare reports failures in the body.
func (cf *Cloudflare) do(ctx context.Context, method string, u *url.URL, payload any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, cf.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("error encoding request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cf.creds.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cf.creds.Token)
	} else {
		req.Header.Set("X-Auth-Email", cf.creds.Email)
		req.Header.Set("X-Auth-Key", cf.creds.Key)
	}

	resp, err := cf.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	cf.logger.Printf("%s %s: %s", method, u.Path, resp.Status)
	return b, nil
}

// Verify checks the credentials and returns a short description of who they belong to.
func (cf *Cloudflare) Verify(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, cf.timeout)
	defer cancel()

	if cf.creds.Token != "" {
		result, err := cf.api.VerifyAPIToken(ctx)
		if err != nil {
			return "", fmt.Errorf("unable to verify api token: %w", err)
		}
		if result.Status != "active" {
			return "", fmt.Errorf("expected api token status to be \"active\"; got \"%s\"", result.Status)
		}
		return "active api token", nil
	}

	user, err := cf.api.UserDetails(ctx)
	if err != nil {
		return "", fmt.Errorf("unable to verify auth key: %w", err)
	}
	return user.Email, nil
}

// Record is an address record as reported by the provider.
type Record struct {
	ID      string
	Name    string
	Type    string
	Content string
	TTL     int
}

// ListRecords returns every A record in the zone.
func (cf *Cloudflare) ListRecords(ctx context.Context, zoneID string) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, cf.timeout)
	defer cancel()

	records, _, err := cf.api.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(zoneID), cloudflare.ListDNSRecordsParams{
		Type: "A",
	})
	if err != nil {
		return nil, fmt.Errorf("error listing A records for zone %s: %w", zoneID, err)
	}
	cf.logger.Printf("found %d A records in zone %s", len(records), zoneID)

	out := make([]Record, 0, len(records))
	for _, r := range records {
		out = append(out, Record{
			ID:      r.ID,
			Name:    r.Name,
			Type:    r.Type,
			Content: r.Content,
			TTL:     r.TTL,
		})
	}
	return out, nil
}
