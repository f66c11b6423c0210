package cfddns

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// DefaultIPService returns the caller's public IPv4 address as plain text.
const DefaultIPService = "https://api.ipify.org"

const maxResponseSize = 256

// WebResolver constructs a resolver which uses external web services to look up a "public" IP address.
//
// Each serviceURL must speak http and return a 2xx status,
// with a valid IPv4 address as the first line of the response body.
// Surrounding whitespace is ignored.
// All other responses are considered an error.
//
// If only one serviceURL is given,
// then the resolver makes a single request and returns its answer.
// If multiple are given,
// then the resolver will request from up to three of them and only return successfully if the first two non-error responses agreed on the IP.
// This approach is taken due to the sensitive nature of having control over DNS records.
func WebResolver(serviceURL ...string) (Resolver, error) {
	if len(serviceURL) == 0 {
		return nil, errors.New("no external IP lookup services were provided")
	}
	var URLs []*url.URL
	for _, u := range serviceURL {
		pu, err := url.Parse(u)
		if err != nil {
			return nil, fmt.Errorf("error parsing URL: %w", err)
		}
		URLs = append(URLs, pu)
	}
	return &webResolver{serviceURLs: URLs}, nil
}

type webResolver struct {
	httpClient  *http.Client
	serviceURLs []*url.URL
}

func (wr *webResolver) SetHTTPClient(httpclient *http.Client) {
	wr.httpClient = httpclient
}

// Resolve implements cfddns.Resolver.
func (wr *webResolver) Resolve(ctx context.Context) (netip.Addr, error) {
	if len(wr.serviceURLs) == 0 {
		return netip.Addr{}, errors.New("no external IP lookup services were provided")
	}
	if len(wr.serviceURLs) == 1 {
		return wr.lookup(ctx, wr.serviceURLs[0])
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		addr netip.Addr
		err  error
	}

	useCount := min(3, len(wr.serviceURLs))
	results := make(chan result, useCount)

	var wg sync.WaitGroup
	wg.Add(useCount)
	for _, u := range wr.serviceURLs[:useCount] {
		u := u
		go func() {
			defer wg.Done()
			r := result{}
			r.addr, r.err = wr.lookup(ctx, u)
			results <- r
		}()
	}
	go func() { wg.Wait(); close(results) }()

	resultCount := 0
	var errs []error
	var ip netip.Addr
	for r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		resultCount++ // don't increase the result count for errors
		if !ip.IsValid() {
			ip = r.addr
			continue
		}
		if ip == r.addr {
			return ip, nil
		}
		break
	}
	if resultCount < 2 {
		return netip.Addr{}, fmt.Errorf("not enough resolvers responded without errors: %w", errors.Join(errs...))
	}

	return netip.Addr{}, errors.New("IP resolvers did not agree on our IP")
}

func (wr *webResolver) lookup(ctx context.Context, url *url.URL) (netip.Addr, error) {
	// 15 seconds is an eternity for the size of the request we're making,
	// but this ensures that all calls to resolve will eventually complete even if the caller supplied context.Background.
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url.String(), nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	httpclient := wr.httpClient
	if httpclient == nil {
		httpclient = cleanhttp.DefaultClient()
	}

	resp, err := httpclient.Do(req)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return netip.Addr{}, fmt.Errorf("http request to %s returned %s", url.Host, resp.Status)
	}

	// an address and a newline fit easily; anything past this is not read
	scanner := bufio.NewReader(io.LimitReader(resp.Body, maxResponseSize))
	ipstring, _ := scanner.ReadString('\n')
	ip, err := netip.ParseAddr(strings.TrimSpace(ipstring))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error parsing IP address from response body: %w", err)
	}
	if ip = ip.Unmap(); !ip.Is4() {
		return netip.Addr{}, fmt.Errorf("%s returned %s, which is not an IPv4 address", url.Host, ip)
	}
	return ip, nil
}
