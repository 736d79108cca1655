package clients

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

	"github.com/dacut/hpc-lab-maker/interfaces"
)

// ErrUnauthorized is returned when the portal rejects the one-time password.
var ErrUnauthorized = errors.New("admin credentials rejected")

// AdminClient manages events through a running portal's admin API.
type AdminClient struct {
	baseURL    string
	password   string
	httpClient *http.Client
}

// NewAdminClient creates a new admin client.
//
// Parameters:
//   - baseURL: The portal URL (e.g., "https://lab.example.com")
//   - password: The one-time administrator password issued at stack creation
//   - timeout: Request timeout duration (optional, default 30 seconds)
func NewAdminClient(baseURL, password string, timeout ...time.Duration) *AdminClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &AdminClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		password: password,
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

// PutEvent creates an event or replaces its defaults and returns the stored
// record. The server never lowers the event's user id counter.
func (c *AdminClient) PutEvent(ctx context.Context, event *interfaces.Event) (*interfaces.Event, error) {
	if event.EventID == "" {
		return nil, errors.New("event id is required")
	}

	reqJSON, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	var stored interfaces.Event
	if err := c.do(ctx, http.MethodPut, c.eventURL(event.EventID), reqJSON, &stored); err != nil {
		return nil, fmt.Errorf("put event %s: %w", event.EventID, err)
	}
	return &stored, nil
}

// GetEvent fetches an event. A missing event yields interfaces.ErrNotFound.
func (c *AdminClient) GetEvent(ctx context.Context, eventID string) (*interfaces.Event, error) {
	var event interfaces.Event
	if err := c.do(ctx, http.MethodGet, c.eventURL(eventID), nil, &event); err != nil {
		return nil, fmt.Errorf("get event %s: %w", eventID, err)
	}
	return &event, nil
}

func (c *AdminClient) eventURL(eventID string) string {
	return fmt.Sprintf("%s/admin/events/%s", c.baseURL, url.PathEscape(eventID))
}

func (c *AdminClient) do(ctx context.Context, method, target string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return interfaces.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("request failed with code %d: %s", resp.StatusCode, errorMessage(resp.Body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
