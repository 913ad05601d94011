package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// NewHTTPRefresh returns a RefreshFunc that posts to the token endpoint and
// reads the fresh bearer token from a {"token": "..."} response.
func NewHTTPRefresh(endpoint string, client *http.Client) (RefreshFunc, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("refresh endpoint required")
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, trimmed, nil)
		if err != nil {
			return "", fmt.Errorf("build refresh request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("call refresh endpoint: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return "", fmt.Errorf("refresh endpoint returned %d: %s",
				resp.StatusCode, strings.TrimSpace(string(body)))
		}

		var payload struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
			return "", fmt.Errorf("decode refresh response: %w", err)
		}
		if strings.TrimSpace(payload.Token) == "" {
			return "", fmt.Errorf("refresh response missing token")
		}
		return payload.Token, nil
	}, nil
}
