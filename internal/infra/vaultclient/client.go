package vaultclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrSecretNotFound = errors.New("vault secret not found")

// Client reads KV v2 secrets over the Vault HTTP API.
type Client struct {
	addr       string
	token      string
	httpClient *http.Client
}

func New(addr, token string) *Client {
	return NewWithHTTPClient(addr, token, &http.Client{Timeout: 10 * time.Second})
}

func NewWithHTTPClient(addr, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		addr:       strings.TrimRight(addr, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

func (c *Client) ReadKV(ctx context.Context, path string, out any) error {
	if c == nil {
		return errors.New("vault client is nil")
	}
	if c.addr == "" || c.token == "" {
		return errors.New("vault addr or token missing")
	}
	if path == "" {
		return errors.New("vault path is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.addr+"/v1/"+strings.TrimLeft(path, "/"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Vault-Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrSecretNotFound, path)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("vault read failed: status %d", resp.StatusCode)
	}

	var envelope struct {
		Data struct {
			Data json.RawMessage `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return err
	}
	if len(envelope.Data.Data) == 0 {
		return errors.New("vault response missing data")
	}
	return json.Unmarshal(envelope.Data.Data, out)
}
