package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cestinha/internal/core"
)

const defaultTimeout = 10 * time.Second

// Client is the HTTP client for the history service. The basket uses
// it to pull the shared history and to push finalized purchases when
// the message broker is not available.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// FetchRecentHistory returns up to limit purchases, newest first.
func (c *Client) FetchRecentHistory(ctx context.Context, limit int) ([]core.Purchase, error) {
	url := c.baseURL + "/history?limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFrom(resp)
	}

	var recs []PurchaseRecord
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}

	slog.DebugContext(ctx, "Fetched remote history", "count", len(recs), "limit", limit)
	return RecordsToPurchases(recs), nil
}

// InsertPurchase publishes a finalized purchase and returns the
// server-assigned row id. The server deduplicates on the client id, so
// republishing after a failed response is safe.
func (c *Client) InsertPurchase(ctx context.Context, p core.Purchase) (int64, error) {
	body, err := json.Marshal(RecordFromPurchase(p))
	if err != nil {
		return 0, fmt.Errorf("encode purchase: %w", err)
	}

	resp, err := c.post(ctx, "/purchase", body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return 0, c.errorFrom(resp)
	}

	var out InsertResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode insert response: %w", err)
	}

	slog.InfoContext(ctx, "Purchase pushed to history service",
		"client_id", p.ID, "remote_id", out.ID)
	return out.ID, nil
}

// UpdateField patches one whitelisted field of a stored purchase.
func (c *Client) UpdateField(ctx context.Context, id int64, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode field value: %w", err)
	}
	body, err := json.Marshal(FieldUpdateRequest{ID: id, Field: field, Value: raw})
	if err != nil {
		return fmt.Errorf("encode field update: %w", err)
	}

	resp, err := c.post(ctx, "/purchase/field-update", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.errorFrom(resp)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	return resp, nil
}

// errorFrom turns a non-2xx reply into an error, keeping the server's
// error and details fields when the body is well formed.
func (c *Client) errorFrom(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var er ErrorResponse
	if err := json.Unmarshal(raw, &er); err == nil && er.Error != "" {
		if er.Details != "" {
			return fmt.Errorf("history service: %s (%s): %s", resp.Status, er.Error, er.Details)
		}
		return fmt.Errorf("history service: %s (%s)", resp.Status, er.Error)
	}
	return fmt.Errorf("history service: %s", resp.Status)
}
