// Package stream is the client side of list sync: it keeps one event stream
// per foregrounded list open and feeds it to a reconcile.Reconciler.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/homecart/listsync/internal/client/reconcile"
)

var ErrUnexpectedStatus = errors.New("unexpected status")

// Client talks to the list API on behalf of one household member and list.
type Client struct {
	BaseURL     string
	HouseholdID string
	ListID      string
	Token       string
	APIKey      string
	// HTTP must not set a Timeout; streams are long-lived.
	HTTP         *http.Client
	FetchTimeout time.Duration
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) listURL(suffix string) string {
	return fmt.Sprintf("%s/api/v1/households/%s/lists/%s%s",
		strings.TrimRight(c.BaseURL, "/"), url.PathEscape(c.HouseholdID), url.PathEscape(c.ListID), suffix)
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func statusError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload)
	if payload.Error != "" {
		return fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("%w %d", ErrUnexpectedStatus, resp.StatusCode)
}

// OpenEvents starts the list's event stream. The caller closes the body;
// cancelling ctx also ends it.
func (c *Client) OpenEvents(ctx context.Context) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.listURL("/events"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp.Body, nil
}

// FetchItems loads the full list. It satisfies reconcile.Fetcher.
func (c *Client) FetchItems(ctx context.Context) ([]reconcile.ItemView, error) {
	if c.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.FetchTimeout)
		defer cancel()
	}
	req, err := c.newRequest(ctx, http.MethodGet, c.listURL("/items"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var payload struct {
		Items []reconcile.ItemView `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return payload.Items, nil
}

// SetChecked checks or unchecks one item.
func (c *Client) SetChecked(ctx context.Context, itemID string, checked bool) error {
	action := "/uncheck"
	if checked {
		action = "/check"
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.listURL("/items/"+url.PathEscape(itemID)+action), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

// AddItem adds an item and returns its id.
func (c *Client) AddItem(ctx context.Context, name string, quantity int) (string, error) {
	raw, err := json.Marshal(map[string]any{"name": name, "quantity": quantity})
	if err != nil {
		return "", err
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.listURL("/items"), bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", statusError(resp)
	}
	var item reconcile.ItemView
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return "", fmt.Errorf("decode item: %w", err)
	}
	return item.ID, nil
}

// CreateList creates a list in the client's household and returns its id.
func (c *Client) CreateList(ctx context.Context, name string) (string, error) {
	raw, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return "", err
	}
	target := fmt.Sprintf("%s/api/v1/households/%s/lists", strings.TrimRight(c.BaseURL, "/"), url.PathEscape(c.HouseholdID))
	req, err := c.newRequest(ctx, http.MethodPost, target, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", statusError(resp)
	}
	var list struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return "", fmt.Errorf("decode list: %w", err)
	}
	return list.ID, nil
}
