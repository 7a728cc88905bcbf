package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3-frozen/yield-indexer/internal/token"
)

const pythHermesAPI = "https://hermes.pyth.network"

// Pyth reads the latest aggregate price for a feed id from a Hermes endpoint.
type Pyth struct {
	client  *http.Client
	baseURL string
}

func NewPyth(baseURL string) *Pyth {
	if baseURL == "" {
		baseURL = pythHermesAPI
	}
	return &Pyth{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type hermesResponse struct {
	Parsed []struct {
		ID    string `json:"id"`
		Price struct {
			Price       string `json:"price"`
			Conf        string `json:"conf"`
			Expo        int32  `json:"expo"`
			PublishTime int64  `json:"publish_time"`
		} `json:"price"`
	} `json:"parsed"`
}

func (p *Pyth) Price(ctx context.Context, d token.Descriptor) (float64, error) {
	id := normalizeFeedID(d.PythPriceID)
	q := url.Values{}
	q.Set("ids[]", id)
	q.Set("parsed", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v2/updates/price/latest?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("build hermes request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("hermes API: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("hermes API status: %d", resp.StatusCode)
	}

	var body hermesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode hermes: %w", err)
	}
	for _, feed := range body.Parsed {
		if normalizeFeedID(feed.ID) != id {
			continue
		}
		mantissa, err := decimal.NewFromString(feed.Price.Price)
		if err != nil {
			return 0, fmt.Errorf("parse pyth price %q: %w", feed.Price.Price, err)
		}
		return mantissa.Shift(feed.Price.Expo).InexactFloat64(), nil
	}
	return 0, fmt.Errorf("pyth feed %s not in response", id)
}

func normalizeFeedID(id string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(id), "0x"))
}
