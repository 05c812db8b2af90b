// Package market looks up token metadata from the Dexscreener search API.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public Dexscreener API.
const DefaultBaseURL = "https://api.dexscreener.com"

// maxResponseSize caps how much of a search reply is read (4 MB).
const maxResponseSize = 4 << 20

// ErrUnavailable is returned when the lookup service cannot be reached or
// answers with something other than a search result.
var ErrUnavailable = errors.New("token lookup unavailable")

// Token is the first match for a search query.
type Token struct {
	Symbol          string
	Name            string
	PriceUSD        string
	ContractAddress string
	ChainID         string
	PairURL         string
}

// Client queries Dexscreener.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type searchResponse struct {
	Pairs []struct {
		ChainID   string `json:"chainId"`
		URL       string `json:"url"`
		PriceUSD  string `json:"priceUsd"`
		BaseToken struct {
			Address string `json:"address"`
			Name    string `json:"name"`
			Symbol  string `json:"symbol"`
		} `json:"baseToken"`
	} `json:"pairs"`
}

// Lookup returns the first pair matching query, or nil when nothing
// matches.
func (c *Client) Lookup(ctx context.Context, query string) (*Token, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	u := c.baseURL + "/latest/dex/search?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&sr); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrUnavailable, err)
	}
	if len(sr.Pairs) == 0 {
		return nil, nil
	}

	p := sr.Pairs[0]
	return &Token{
		Symbol:          p.BaseToken.Symbol,
		Name:            p.BaseToken.Name,
		PriceUSD:        p.PriceUSD,
		ContractAddress: p.BaseToken.Address,
		ChainID:         p.ChainID,
		PairURL:         p.URL,
	}, nil
}
