package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"finance-sync-service/pkg/common"
)

// Ledger API list endpoints.
const (
	ReceivablesEndpoint = "/v1/receivables"
	PayablesEndpoint    = "/v1/payables"
)

const ledgerPageSize = 100

var (
	// ErrReconnectRequired means the stored token pair is no longer accepted
	// by the ledger API. The school must go through the OAuth flow again.
	ErrReconnectRequired = errors.New("ledger token invalid, reconnection required")

	// ErrRateLimited is returned when the ledger API answers 429.
	ErrRateLimited = errors.New("ledger rate limit hit")
)

// LedgerAPIError is a non-2xx response other than 401/429.
type LedgerAPIError struct {
	StatusCode int
	Body       string
}

func (e *LedgerAPIError) Error() string {
	return fmt.Sprintf("ledger api returned %d: %s", e.StatusCode, e.Body)
}

// IsServerError reports whether the response was a 5xx.
func (e *LedgerAPIError) IsServerError() bool {
	return e.StatusCode >= 500
}

// LedgerItem is one receivable or payable as returned by the list endpoints.
// Raw keeps the original payload for the audit column.
type LedgerItem struct {
	ID          int64           `json:"id"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	DueDate     string          `json:"due_date"`
	EntityName  string          `json:"entity_name"`
	Raw         json.RawMessage `json:"-"`
}

// LedgerAllocation is one category allocation on a detail response.
type LedgerAllocation struct {
	CategoryName string `json:"category_name"`
}

// LedgerDetail is the per-record detail response carrying the real category.
type LedgerDetail struct {
	ID          int64              `json:"id"`
	Allocations []LedgerAllocation `json:"allocations"`
}

// CategoryName returns the first non-empty allocation category, or "" when
// the source system has no category for the record.
func (d *LedgerDetail) CategoryName() string {
	for _, a := range d.Allocations {
		if a.CategoryName != "" {
			return a.CategoryName
		}
	}
	return ""
}

// TokenPair is the result of a refresh-token grant.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// LedgerClient talks to the external bookkeeping API. All list pagination is
// sequential and rate-limit aware; it never fetches pages speculatively.
type LedgerClient struct {
	BaseURL      string
	AuthURL      string
	ClientID     string
	ClientSecret string
	PageDelay    time.Duration
}

func NewLedgerClient() *LedgerClient {
	pageDelay := 400 * time.Millisecond
	if v := os.Getenv("LEDGER_PAGE_DELAY_MS"); v != "" {
		var ms int
		if _, err := fmt.Sscanf(v, "%d", &ms); err == nil && ms > 0 {
			pageDelay = time.Duration(ms) * time.Millisecond
		}
	}

	return &LedgerClient{
		BaseURL:      os.Getenv("LEDGER_API_BASE_URL"),
		AuthURL:      os.Getenv("LEDGER_AUTH_URL"),
		ClientID:     os.Getenv("LEDGER_CLIENT_ID"),
		ClientSecret: os.Getenv("LEDGER_CLIENT_SECRET"),
		PageDelay:    pageDelay,
	}
}

// RefreshToken exchanges a refresh token for a new access/refresh pair.
func (c *LedgerClient) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", c.ClientID)
	data.Set("client_secret", c.ClientSecret)

	resp, err := common.PostForm(ctx, c.AuthURL, data)
	if err != nil {
		return nil, fmt.Errorf("token refresh request failed: %w", err)
	}

	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: refresh rejected with status %d", ErrReconnectRequired, resp.StatusCode)
	}

	var pair TokenPair
	if err := resp.Decode(&pair); err != nil {
		return nil, fmt.Errorf("invalid token response: %w", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return nil, fmt.Errorf("%w: refresh response missing tokens", ErrReconnectRequired)
	}

	return &pair, nil
}

type listPage struct {
	Items []json.RawMessage `json:"items"`
}

// FetchAll walks a page-numbered list endpoint to exhaustion, inserting a
// fixed delay between page requests. It stops when a page comes back empty.
func (c *LedgerClient) FetchAll(ctx context.Context, endpoint string, dateFrom, dateTo time.Time, accessToken string) ([]LedgerItem, error) {
	var all []LedgerItem

	headers := map[string]string{"Authorization": "Bearer " + accessToken}

	for page := 1; ; page++ {
		if page > 1 {
			if err := sleepCtx(ctx, c.PageDelay); err != nil {
				return nil, err
			}
		}

		reqURL := fmt.Sprintf("%s%s?page=%d&limit=%d&due_date_from=%s&due_date_to=%s",
			c.BaseURL, endpoint, page, ledgerPageSize,
			dateFrom.Format("2006-01-02"), dateTo.Format("2006-01-02"))

		resp, err := common.GetJSON(ctx, reqURL, headers)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d of %s: %w", page, endpoint, err)
		}

		if resp.StatusCode == 401 {
			return nil, ErrReconnectRequired
		}
		if !resp.IsSuccess() {
			return nil, &LedgerAPIError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
		}

		var pageData listPage
		if err := resp.Decode(&pageData); err != nil {
			return nil, fmt.Errorf("decode page %d of %s: %w", page, endpoint, err)
		}

		if len(pageData.Items) == 0 {
			break
		}

		for _, raw := range pageData.Items {
			var item LedgerItem
			if err := json.Unmarshal(raw, &item); err != nil {
				return nil, fmt.Errorf("decode item on page %d of %s: %w", page, endpoint, err)
			}
			item.Raw = raw
			all = append(all, item)
		}
	}

	return all, nil
}

// FetchDetail calls the per-record detail endpoint. The caller is expected to
// classify ErrRateLimited, ErrReconnectRequired and *LedgerAPIError.
func (c *LedgerClient) FetchDetail(ctx context.Context, endpoint, sourceID, accessToken string) (*LedgerDetail, error) {
	headers := map[string]string{"Authorization": "Bearer " + accessToken}

	resp, err := common.GetJSON(ctx, fmt.Sprintf("%s%s/%s", c.BaseURL, endpoint, sourceID), headers)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == 429:
		return nil, ErrRateLimited
	case resp.StatusCode == 401:
		return nil, ErrReconnectRequired
	case !resp.IsSuccess():
		return nil, &LedgerAPIError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	var detail LedgerDetail
	if err := resp.Decode(&detail); err != nil {
		return nil, fmt.Errorf("decode detail %s: %w", sourceID, err)
	}

	return &detail, nil
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
