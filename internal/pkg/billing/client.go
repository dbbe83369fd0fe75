package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout = 15 * time.Second
	pageSize       = 100
	maxPages       = 50
)

var ErrNotConfigured = errors.New("billing client not configured")

// Payment is one successful charge reported by the billing provider.
type Payment struct {
	ExternalID string
	Amount     int64 // minor units
	Currency   string
	Customer   string // provider customer id or email
	Timestamp  time.Time
}

type chargeList struct {
	Data []struct {
		ID            string `json:"id"`
		Amount        int64  `json:"amount"`
		Currency      string `json:"currency"`
		Customer      string `json:"customer"`
		ReceiptEmail  string `json:"receipt_email"`
		Created       int64  `json:"created"`
		Status        string `json:"status"`
		Paid          bool   `json:"paid"`
		Refunded      bool   `json:"refunded"`
		BillingDetail struct {
			Email string `json:"email"`
		} `json:"billing_details"`
	} `json:"data"`
	HasMore bool `json:"has_more"`
}

// Client lists payments from a Stripe-compatible charges API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	now     func() time.Time
}

// NewClient creates a billing client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		http: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		now: time.Now,
	}
}

// ListRecentSuccessfulPayments returns succeeded, non-refunded charges created within window.
func (c *Client) ListRecentSuccessfulPayments(ctx context.Context, window time.Duration) ([]Payment, error) {
	if c == nil || c.baseURL == "" || c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	since := c.now().Add(-window).Unix()
	var (
		out   []Payment
		after string
	)

	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(pageSize))
		q.Set("created[gte]", strconv.FormatInt(since, 10))
		if after != "" {
			q.Set("starting_after", after)
		}

		list, err := c.fetch(ctx, "/v1/charges?"+q.Encode())
		if err != nil {
			return nil, err
		}

		for _, ch := range list.Data {
			after = ch.ID
			if ch.Status != "succeeded" || !ch.Paid || ch.Refunded {
				continue
			}
			customer := ch.Customer
			if customer == "" {
				customer = ch.ReceiptEmail
			}
			if customer == "" {
				customer = ch.BillingDetail.Email
			}
			out = append(out, Payment{
				ExternalID: ch.ID,
				Amount:     ch.Amount,
				Currency:   strings.ToUpper(ch.Currency),
				Customer:   customer,
				Timestamp:  time.Unix(ch.Created, 0).UTC(),
			})
		}

		if !list.HasMore || len(list.Data) == 0 {
			return out, nil
		}
	}

	return out, nil
}

func (c *Client) fetch(ctx context.Context, path string) (*chargeList, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("billing request error: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("billing request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("billing http error: status=%d body=%s", resp.StatusCode, string(body))
	}

	var list chargeList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("billing: decode response: %w", err)
	}
	return &list, nil
}
