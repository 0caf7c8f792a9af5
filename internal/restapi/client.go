package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"carealert/internal/config"
	"carealert/internal/credential"
	"carealert/internal/domain"
	"carealert/internal/logging"
	"carealert/internal/permanent"
)

const maxErrorBody = 512

// Client calls the alert REST backend with bearer authentication.
// Params: base URL, endpoint paths, token source, and HTTP client.
// Returns: alert listing and confirmation operations.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	alertsPath  string
	confirmPath string
	tokens      credential.TokenSource
	logger      *slog.Logger
}

// New builds REST client from config.
// Params: REST config, token source, optional HTTP client, and logger.
// Returns: client or validation error.
func New(cfg config.RESTConfig, tokens credential.TokenSource, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("rest base url is required")
	}
	if tokens == nil {
		return nil, errors.New("token source is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second}
	}
	return &Client{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		alertsPath:  cfg.AlertsPath,
		confirmPath: cfg.ConfirmPath,
		tokens:      tokens,
		logger:      logging.Component(logger, "restapi"),
	}, nil
}

// ListAlerts fetches current alerts ordered newest first.
// Params: context.
// Returns: alert records or request error (4xx marked permanent).
func (c *Client) ListAlerts(ctx context.Context) ([]domain.Alert, error) {
	var alerts []domain.Alert
	if err := c.do(ctx, http.MethodGet, c.alertsPath, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

// ConfirmAlert tells backend the caregiver is on the way.
// Params: context and alert id.
// Returns: request error (4xx marked permanent).
func (c *Client) ConfirmAlert(ctx context.Context, alertID int64) error {
	path := strings.ReplaceAll(c.confirmPath, "{id}", strconv.FormatInt(alertID, 10))
	return c.do(ctx, http.MethodPost, path, nil)
}

// do performs one authenticated request and decodes JSON into out when set.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	op := method + " " + path
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%s: fetch token: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return permanent.Mark(fmt.Errorf("%s: build request: %w", op, err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("rest call", "op", op, "status", resp.StatusCode, "elapsed", time.Since(started).String())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return permanent.FromStatus(op, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
