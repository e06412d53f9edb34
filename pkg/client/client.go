package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client provides HTTP client functionality to communicate with the botvisr daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("API error %d: %s", e.Status, e.Message)
}

// IsCode reports whether err is an APIError with the given reason code.
func IsCode(err error, code string) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == code
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api/v1",
		Timeout: 30 * time.Second,
	}
}

// New creates a new botvisr API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	err := c.do(ctx, http.MethodGet, "/bots/status", nil, nil)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	return true
}

// CreateBot registers a new bot in the Stopped state.
func (c *Client) CreateBot(ctx context.Context, req CreateRequest) (Bot, error) {
	c.logger.Debug("Creating bot", "name", req.Name, "kind", req.Kind)
	var b Bot
	err := c.do(ctx, http.MethodPost, "/bots", req, &b)
	return b, err
}

// ListBots returns every bot record.
func (c *Client) ListBots(ctx context.Context) ([]Bot, error) {
	var out []Bot
	err := c.do(ctx, http.MethodGet, "/bots", nil, &out)
	return out, err
}

// DeleteBot removes a stopped bot.
func (c *Client) DeleteBot(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/bots/"+url.PathEscape(id), nil, nil)
}

// StartBot starts a bot and returns its updated record.
func (c *Client) StartBot(ctx context.Context, id string) (Bot, error) {
	c.logger.Debug("Starting bot", "id", id)
	var b Bot
	err := c.do(ctx, http.MethodPost, "/bots/"+url.PathEscape(id)+"/start", nil, &b)
	return b, err
}

// StopBot stops a bot; force skips the graceful phase.
func (c *Client) StopBot(ctx context.Context, id string, force bool) (Bot, error) {
	c.logger.Debug("Stopping bot", "id", id, "force", force)
	p := "/bots/" + url.PathEscape(id) + "/stop"
	if force {
		p += "?force=true"
	}
	var b Bot
	err := c.do(ctx, http.MethodPost, p, nil, &b)
	return b, err
}

// RestartBot stops then starts a bot.
func (c *Client) RestartBot(ctx context.Context, id string) (Bot, error) {
	c.logger.Debug("Restarting bot", "id", id)
	var b Bot
	err := c.do(ctx, http.MethodPost, "/bots/"+url.PathEscape(id)+"/restart", nil, &b)
	return b, err
}

// Status returns the record and live process of a bot.
func (c *Client) Status(ctx context.Context, id string) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/bots/"+url.PathEscape(id)+"/status", nil, &st)
	return st, err
}

// AllStatus returns the live status of every tracked bot keyed by id.
func (c *Client) AllStatus(ctx context.Context) (map[string]ProcessStatus, error) {
	out := map[string]ProcessStatus{}
	err := c.do(ctx, http.MethodGet, "/bots/status", nil, &out)
	return out, err
}

// Tail returns the last n lines of a bot's log.
func (c *Client) Tail(ctx context.Context, id string, n int) ([]string, error) {
	var ll logLines
	err := c.do(ctx, http.MethodGet, "/bots/"+url.PathEscape(id)+"/logs/tail?lines="+strconv.Itoa(n), nil, &ll)
	return ll.Lines, err
}

// do sends body as JSON and decodes a 2xx response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	c.logger.Debug("API request failed", "error", er.Error, "code", er.Code, "status", resp.StatusCode)
	return &APIError{Status: resp.StatusCode, Code: er.Code, Message: er.Error}
}
