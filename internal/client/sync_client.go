package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"studio-sync/internal/domain"
	"studio-sync/internal/service"
)

// SyncClient talks to a sync server's HTTP API.
type SyncClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewSyncClient(baseURL, token string, httpClient *http.Client) *SyncClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &SyncClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

func (c *SyncClient) Status(ctx context.Context) (*domain.StatusResponse, error) {
	var status domain.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/sync/status", nil, &status); err != nil {
		return nil, err
	}
	if status.Users == nil {
		status.Users = make(map[string]domain.UserPresence)
	}
	return &status, nil
}

// ActiveUsers asks for the users active within threshold; zero uses the
// server's default window.
func (c *SyncClient) ActiveUsers(ctx context.Context, threshold time.Duration) (*domain.ActiveUsersResponse, error) {
	path := "/sync/users"
	if threshold > 0 {
		path += "?" + url.Values{"threshold": {strconv.FormatInt(threshold.Milliseconds(), 10)}}.Encode()
	}

	var users domain.ActiveUsersResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &users); err != nil {
		return nil, err
	}
	return &users, nil
}

func (c *SyncClient) Notify(ctx context.Context, userID string, version domain.Version, action string) (*domain.NotifyResponse, error) {
	req := domain.NotifyRequest{UserID: userID, Version: version, Action: action}

	var res domain.NotifyResponse
	if err := c.do(ctx, http.MethodPost, "/sync/notify", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DetectChanges lists editors other than selfID whose last activity is after
// since, oldest first. It never writes.
func (c *SyncClient) DetectChanges(ctx context.Context, selfID string, since int64) ([]domain.RemoteChange, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}

	var changes []domain.RemoteChange
	for userID, presence := range status.Users {
		if userID == selfID || presence.LastModified <= since {
			continue
		}
		changes = append(changes, domain.RemoteChange{
			UserID:       userID,
			LastModified: presence.LastModified,
			Version:      presence.Version,
			Action:       presence.Action,
		})
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].LastModified != changes[j].LastModified {
			return changes[i].LastModified < changes[j].LastModified
		}
		return changes[i].UserID < changes[j].UserID
	})

	return changes, nil
}

func (c *SyncClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", service.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", service.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: unexpected response body: %v", service.ErrDecode, err)
	}
	return nil
}

// statusError maps an error response back onto the service taxonomy.
func statusError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	msg := http.StatusText(status)
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}

	switch status {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", service.ErrInvalidArgument, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", service.ErrConflict, msg)
	default:
		return fmt.Errorf("%w: server returned %d: %s", service.ErrTransport, status, msg)
	}
}
