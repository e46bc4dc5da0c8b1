package sheetclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/rowstore"
	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/sheets"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 15 * time.Second
	maxErrorBodyBytes     = 4096

	reasonTabNotFound = "tab_not_found"
	reasonRowNotFound = "row_not_found"
)

var (
	// ErrInvalidClientConfig indicates a client configured without a usable base URL.
	ErrInvalidClientConfig = errors.New("sheetclient: invalid client config")
	// ErrUnauthorized indicates the backend rejected the bearer token.
	ErrUnauthorized = errors.New("sheetclient: unauthorized")
	// ErrBadRequest indicates the backend rejected the request as malformed.
	ErrBadRequest = errors.New("sheetclient: bad request")
	// ErrUnexpectedResponse indicates a status or body the client cannot interpret.
	ErrUnexpectedResponse = errors.New("sheetclient: unexpected response")
)

var _ rowstore.Backend = (*Client)(nil)

// RemoteError describes a non-success response from the backend.
type RemoteError struct {
	StatusCode int
	Reason     string
	Code       string
	err        error
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%v: status %d: %s (%s)", e.err, e.StatusCode, e.Reason, e.Code)
	}
	return fmt.Sprintf("%v: status %d: %s", e.err, e.StatusCode, e.Reason)
}

func (e *RemoteError) Unwrap() error {
	return e.err
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the tab API over HTTP and satisfies rowstore.Backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// New validates cfg and constructs a Client.
func New(cfg Config) (*Client, error) {
	rawURL := strings.TrimSpace(cfg.BaseURL)
	if rawURL == "" {
		return nil, fmt.Errorf("%w: base url required", ErrInvalidClientConfig)
	}
	baseURL, err := url.Parse(strings.TrimSuffix(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidClientConfig, baseURL.Scheme)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    baseURL.String(),
		token:      strings.TrimSpace(cfg.Token),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type tabsPayload struct {
	Tabs []string `json:"tabs"`
}

type tabPayload struct {
	Tab    string     `json:"tab"`
	Values [][]string `json:"values"`
}

type rowPayload struct {
	TargetRow int      `json:"target_row,omitempty"`
	Position  int      `json:"position,omitempty"`
	Values    []string `json:"values"`
}

type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Tabs lists the tab names known to the backend.
func (c *Client) Tabs(ctx context.Context) ([]string, error) {
	var response tabsPayload
	if err := c.do(ctx, http.MethodGet, c.tabsPath(), nil, &response); err != nil {
		return nil, err
	}
	return response.Tabs, nil
}

// ReadTab returns every row of the tab, header first.
func (c *Client) ReadTab(ctx context.Context, tab string) ([][]string, error) {
	var response tabPayload
	if err := c.do(ctx, http.MethodGet, c.tabsPath(tab), nil, &response); err != nil {
		return nil, err
	}
	return response.Values, nil
}

// ReadRow returns the cells at position, or nil past the end of the tab.
func (c *Client) ReadRow(ctx context.Context, tab string, position int) ([]string, error) {
	var response rowPayload
	if err := c.do(ctx, http.MethodGet, c.tabsPath(tab, "rows", strconv.Itoa(position)), nil, &response); err != nil {
		return nil, err
	}
	return response.Values, nil
}

// AppendRow appends cells and returns the position and cells the backend stored.
func (c *Client) AppendRow(ctx context.Context, tab string, target int, cells []string) (rowstore.AppendResult, error) {
	request := rowPayload{TargetRow: target, Values: nonNil(cells)}
	var response rowPayload
	if err := c.do(ctx, http.MethodPost, c.tabsPath(tab, "rows"), request, &response); err != nil {
		return rowstore.AppendResult{}, err
	}
	return rowstore.AppendResult{Position: response.Position, Values: response.Values}, nil
}

// ReplaceRow overwrites the data row at position and returns the stored cells.
func (c *Client) ReplaceRow(ctx context.Context, tab string, position int, cells []string) ([]string, error) {
	request := rowPayload{Values: nonNil(cells)}
	var response rowPayload
	if err := c.do(ctx, http.MethodPut, c.tabsPath(tab, "rows", strconv.Itoa(position)), request, &response); err != nil {
		return nil, err
	}
	return response.Values, nil
}

// DeleteRow removes the data row at position and returns the remaining tab.
func (c *Client) DeleteRow(ctx context.Context, tab string, position int) ([][]string, error) {
	var response tabPayload
	if err := c.do(ctx, http.MethodDelete, c.tabsPath(tab, "rows", strconv.Itoa(position)), nil, &response); err != nil {
		return nil, err
	}
	return response.Values, nil
}

func (c *Client) tabsPath(segments ...string) string {
	escaped := make([]string, 0, len(segments)+1)
	escaped = append(escaped, "tabs")
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(segment))
	}
	return "/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, path string, body any, target any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Accept", "application/json")
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("tab request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		remote := decodeRemoteError(response)
		c.logger.Debug("tab request rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", response.StatusCode),
			zap.String("reason", remote.Reason))
		return remote
	}

	if target == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return nil
}

func decodeRemoteError(response *http.Response) *RemoteError {
	remote := &RemoteError{StatusCode: response.StatusCode}
	var payload errorPayload
	raw, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	if err := json.Unmarshal(raw, &payload); err == nil {
		remote.Reason = payload.Error
		remote.Code = payload.Code
	} else {
		remote.Reason = strings.TrimSpace(string(raw))
	}

	switch {
	case remote.Reason == reasonTabNotFound:
		remote.err = sheets.ErrTabNotFound
	case remote.Reason == reasonRowNotFound:
		remote.err = sheets.ErrRowNotFound
	case response.StatusCode == http.StatusUnauthorized:
		remote.err = ErrUnauthorized
	case response.StatusCode == http.StatusBadRequest:
		remote.err = ErrBadRequest
	default:
		remote.err = ErrUnexpectedResponse
	}
	return remote
}

func nonNil(cells []string) []string {
	if cells == nil {
		return []string{}
	}
	return cells
}
