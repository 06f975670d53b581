// Package imag is a client for the image quote repository HTTP API.
package imag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"quotesbot/internal/domain"
)

const (
	// maxBodySize bounds every response body read from the repository.
	maxBodySize int64 = 64 << 20
	// maxErrorBody bounds the response text kept in a StatusError.
	maxErrorBody = 512
)

// Endpoints used to learn the identifier of the newest quote. Older
// repository revisions expose /api/count, newer ones /api/latest.
const (
	IDEndpointCount  = "count"
	IDEndpointLatest = "latest"
)

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the repository root, e.g. "https://imag.example.com/".
	BaseURL string
	// Key is the shared secret required for submissions.
	Key string
	// IDEndpoint is IDEndpointCount or IDEndpointLatest. Empty means count.
	IDEndpoint string
	// HTTPClient is used for all requests. If nil, NewHTTPClient(0) is used.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements domain.Repository over HTTP.
type Client struct {
	baseURL    string
	key        string
	idEndpoint string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ domain.Repository = (*Client)(nil)

// New creates a repository client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("imag: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("imag: invalid BaseURL %q: %w", cfg.BaseURL, err)
	}

	idEndpoint := cfg.IDEndpoint
	switch idEndpoint {
	case "":
		idEndpoint = IDEndpointCount
	case IDEndpointCount, IDEndpointLatest:
	default:
		return nil, fmt.Errorf("imag: unknown id endpoint %q", idEndpoint)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		key:        cfg.Key,
		idEndpoint: idEndpoint,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// PageURL returns the repository's web page anchor for a quote.
func (c *Client) PageURL(id int) string {
	return c.baseURL + "/#" + strconv.Itoa(id)
}

// ImageURL returns the direct image link for a quote.
func (c *Client) ImageURL(id int) string {
	return c.baseURL + "/image/" + strconv.Itoa(id)
}

// Submit posts a new quote as a multipart form with desc, key and image
// fields.
func (c *Client) Submit(ctx context.Context, caption string, image []byte, filename string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("desc", caption); err != nil {
		return fmt.Errorf("imag: encode desc: %w", err)
	}
	if err := writer.WriteField("key", c.key); err != nil {
		return fmt.Errorf("imag: encode key: %w", err)
	}
	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return fmt.Errorf("imag: encode image: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return fmt.Errorf("imag: encode image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("imag: encode form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/", &body)
	if err != nil {
		return fmt.Errorf("imag: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("imag: submit failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError("POST /", resp)
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))

	c.logger.Debug("quote submitted", "bytes", len(image), "caption_len", len(caption))
	return nil
}

// LatestID returns the identifier of the newest quote.
func (c *Client) LatestID(ctx context.Context) (int, error) {
	endpoint := "/api/" + c.idEndpoint
	data, _, err := c.get(ctx, endpoint, nil)
	if err != nil {
		return 0, err
	}

	text := strings.TrimSpace(string(data))
	if n, err := strconv.Atoi(strings.Trim(text, `"`)); err == nil {
		return n, nil
	}

	var obj struct {
		IID   *int `json:"iid"`
		Count *int `json:"count"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return 0, fmt.Errorf("imag: parse %s response: %w", endpoint, err)
	}
	switch {
	case obj.IID != nil:
		return *obj.IID, nil
	case obj.Count != nil:
		return *obj.Count, nil
	}
	return 0, fmt.Errorf("imag: %s response carries no identifier: %s", endpoint, text)
}

// Search runs a repository search ordered by score or by newest.
func (c *Client) Search(ctx context.Context, query string, order domain.SearchOrder) ([]domain.Quote, error) {
	if order == "" {
		order = domain.OrderScore
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("s", string(order))
	return c.getList(ctx, "/api/search", params)
}

// All returns every quote in the repository's ranked order.
func (c *Client) All(ctx context.Context) ([]domain.Quote, error) {
	return c.getList(ctx, "/api/all", nil)
}

// Image fetches the raw bytes of a quote image.
func (c *Client) Image(ctx context.Context, id int) (*domain.QuoteImage, error) {
	data, contentType, err := c.get(ctx, "/image/"+strconv.Itoa(id), nil)
	if err != nil {
		return nil, err
	}
	return &domain.QuoteImage{Data: data, MimeType: contentType}, nil
}

// Quote fetches the metadata of a single quote.
func (c *Client) Quote(ctx context.Context, id int) (*domain.Quote, error) {
	endpoint := "/api/image/" + strconv.Itoa(id)
	data, _, err := c.get(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var q apiQuote
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("imag: parse %s response: %w", endpoint, err)
	}
	quote := q.toDomain()
	if quote.ID == 0 {
		quote.ID = id
	}
	return &quote, nil
}

func (c *Client) getList(ctx context.Context, endpoint string, params url.Values) ([]domain.Quote, error) {
	data, _, err := c.get(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}

	var items []apiQuote
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("imag: parse %s response: %w", endpoint, err)
	}
	quotes := make([]domain.Quote, len(items))
	for i, item := range items {
		quotes[i] = item.toDomain()
	}
	return quotes, nil
}

// get performs a GET and returns the body and its content type.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, string, error) {
	requestURL := c.baseURL + endpoint
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("imag: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("imag: GET %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", statusError("GET "+endpoint, resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, "", fmt.Errorf("imag: read %s response: %w", endpoint, err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func statusError(endpoint string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
