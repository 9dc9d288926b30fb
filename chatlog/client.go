package chatlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/chatvec/core"
)

// API paths
const (
	chatlogPath  = "/api/v1/chatlog"
	countPath    = "/api/v1/chatlog/count"
	chatroomPath = "/api/v1/chatroom"
	contactPath  = "/api/v1/contact"

	maxErrorBody = 512
)

// Client is an HTTP client for the chat-log API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Source = (*Client)(nil)

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc != nil {
			c.httpClient = hc
		}
		return nil
	}
}

// WithTimeout sets the timeout of the default http.Client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", timeout)
		}
		c.httpClient.Timeout = timeout
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "chatlog-client")
	return c, nil
}

type countResponse struct {
	Count  int    `json:"count"`
	Talker string `json:"talker"`
	Time   string `json:"time"`
}

// Count returns the number of records for talker within timeRange.
func (c *Client) Count(ctx context.Context, talker, timeRange string) (int, error) {
	if err := validateQuery(talker, timeRange); err != nil {
		return 0, err
	}
	q := url.Values{}
	q.Set("talker", talker)
	q.Set("time", timeRange)

	var resp countResponse
	if err := c.getJSON(ctx, countPath, q, &resp); err != nil {
		return 0, err
	}
	c.logger.Debug("counted records", "talker", talker, "time", timeRange, "count", resp.Count)
	return resp.Count, nil
}

// FetchPage returns one page of records.
func (c *Client) FetchPage(ctx context.Context, talker, timeRange string, limit, offset int) ([]core.ChatRecord, error) {
	if err := validateQuery(talker, timeRange); err != nil {
		return nil, err
	}
	if limit < 1 || offset < 0 {
		return nil, fmt.Errorf("%w: limit %d offset %d", core.ErrInvalidArgument, limit, offset)
	}
	q := url.Values{}
	q.Set("talker", talker)
	q.Set("time", timeRange)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("format", "json")

	var records []core.ChatRecord
	if err := c.getJSON(ctx, chatlogPath, q, &records); err != nil {
		return nil, err
	}
	c.logger.Debug("fetched page", "talker", talker, "offset", offset, "records", len(records))
	return records, nil
}

type roomResponse struct {
	Items []Room `json:"items"`
}

type contactResponse struct {
	Items []struct {
		UserName string `json:"userName"`
		Alias    string `json:"alias"`
		Remark   string `json:"remark"`
		NickName string `json:"nickName"`
	} `json:"items"`
}

// LookupTalker resolves a talker through the chat room endpoint, falling
// back to the contact endpoint for one-to-one conversations.
func (c *Client) LookupTalker(ctx context.Context, talker string) (*Room, error) {
	if err := core.ValidateTalker(talker); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("keyword", talker)
	q.Set("format", "json")

	var rooms roomResponse
	if err := c.getJSON(ctx, chatroomPath, q, &rooms); err != nil {
		return nil, err
	}
	if room := pickRoom(rooms.Items, talker); room != nil {
		return room, nil
	}

	var contacts contactResponse
	if err := c.getJSON(ctx, contactPath, q, &contacts); err != nil {
		return nil, err
	}
	for _, item := range contacts.Items {
		if item.UserName == talker || item.Alias == talker {
			return &Room{Name: item.UserName, Remark: item.Remark, NickName: item.NickName}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTalkerNotFound, talker)
}

// pickRoom prefers an exact name match and otherwise takes the first hit.
func pickRoom(items []Room, talker string) *Room {
	for i := range items {
		if items[i].Name == talker {
			return &items[i]
		}
	}
	if len(items) > 0 {
		return &items[0]
	}
	return nil
}

func validateQuery(talker, timeRange string) error {
	if err := core.ValidateTalker(talker); err != nil {
		return err
	}
	_, err := core.ParseTimeRange(timeRange)
	return err
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chatlog %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("chatlog %s: decode: %w", path, err)
	}
	return nil
}
