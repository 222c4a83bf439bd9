// Package explorer queries Etherscan-compatible block-explorer APIs.
package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/84hero/evm-activity/pkg/chain"
	"github.com/84hero/evm-activity/pkg/metrics"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/time/rate"
)

// maxBodySize caps how much of an explorer response is read.
const maxBodySize = 1 << 20

// Config holds configuration for the explorer client.
type Config struct {
	Timeout           time.Duration     `mapstructure:"timeout"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second"` // 0 disables client-side limiting
	APIKeys           map[string]string `mapstructure:"api_keys"`            // chain slug -> key
	Endpoints         map[string]string `mapstructure:"endpoints"`           // chain slug -> API URL override
	UserAgent         string            `mapstructure:"user_agent"`
}

// Resolver looks up chain descriptors by slug.
type Resolver interface {
	Resolve(slug string) (chain.Descriptor, bool)
}

// Client asks an explorer whether an address transacted inside a block range.
// It never returns errors: any ambiguity is reported as "no activity".
type Client struct {
	cfg        Config
	chains     Resolver
	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewClient initializes a new explorer client
func NewClient(cfg Config, chains Resolver) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "evm-activity/v1"
	}

	c := &Client{
		cfg:    cfg,
		chains: chains,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

// txListResponse is the envelope returned by module=account&action=txlist.
// Result is an array on success and a string on most errors.
type txListResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// HasActivityInRange reports whether address has at least one transaction in [startBlock, endBlock].
// Transport failures, non-2xx statuses and malformed payloads all yield false. There are no retries.
func (c *Client) HasActivityInRange(ctx context.Context, address, chainSlug string, startBlock, endBlock uint64) bool {
	started := time.Now()
	active, err := c.query(ctx, address, chainSlug, startBlock, endBlock)
	if err != nil {
		log.Debug("Explorer query treated as no activity", "chain", chainSlug, "from", startBlock, "to", endBlock, "err", err)
		metrics.ObserveExplorerRequest(chainSlug, metrics.OutcomeError, started)
		return false
	}

	outcome := metrics.OutcomeEmpty
	if active {
		outcome = metrics.OutcomeActive
	}
	metrics.ObserveExplorerRequest(chainSlug, outcome, started)
	return active
}

func (c *Client) query(ctx context.Context, address, chainSlug string, startBlock, endBlock uint64) (bool, error) {
	reqURL, err := c.RequestURL(address, chainSlug, startBlock, endBlock)
	if err != nil {
		return false, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("status %d", resp.StatusCode)
	}

	var body txListResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&body); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	if body.Status != "1" {
		return false, nil
	}

	var txs []json.RawMessage
	if err := json.Unmarshal(body.Result, &txs); err != nil {
		return false, fmt.Errorf("decode result: %w", err)
	}
	return len(txs) > 0, nil
}

// RequestURL builds the txlist query for one block range.
func (c *Client) RequestURL(address, chainSlug string, startBlock, endBlock uint64) (string, error) {
	desc, ok := c.chains.Resolve(chainSlug)
	if !ok {
		return "", fmt.Errorf("unknown chain %q", chainSlug)
	}
	apiURL := desc.ExplorerAPIURL
	if override, ok := c.cfg.Endpoints[chainSlug]; ok && override != "" {
		apiURL = override
	}
	if apiURL == "" {
		return "", fmt.Errorf("chain %q has no explorer api url", chainSlug)
	}

	u, err := url.Parse(apiURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("module", "account")
	q.Set("action", "txlist")
	q.Set("address", address)
	q.Set("startblock", strconv.FormatUint(startBlock, 10))
	q.Set("endblock", strconv.FormatUint(endBlock, 10))
	q.Set("page", "1")
	q.Set("offset", "1")
	q.Set("sort", "asc")
	q.Set("apikey", c.apiKey(desc))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (c *Client) apiKey(desc chain.Descriptor) string {
	if key, ok := c.cfg.APIKeys[desc.Slug]; ok && key != "" {
		return key
	}
	if desc.APIKeyEnv != "" {
		return os.Getenv(desc.APIKeyEnv)
	}
	return ""
}
