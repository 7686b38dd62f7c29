package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// apiClient talks to a running daemon's REST API on behalf of CLI verbs.
type apiClient struct {
	baseURL string
	client  *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		baseURL: strings.TrimSuffix(daemonAddr, "/"),
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *apiClient) get(path string, out any) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *apiClient) post(path string, body, out any) error {
	return c.do(http.MethodPost, path, body, out)
}

func (c *apiClient) do(method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(bs)
	}

	req, err := http.NewRequest(method, c.baseURL+"/api/v1"+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()

	bs, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(bs, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s", apiErr.Message)
		}
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(bs, out)
}

// prettyPrint renders an API response for the terminal.
func prettyPrint(v any) (string, error) {
	bs, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(bs), nil
}
