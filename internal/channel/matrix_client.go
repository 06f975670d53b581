package channel

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
	"strings"

	"github.com/google/uuid"
)

const matrixMaxResponseBytes = 64 << 20

// MatrixError is the structured error body of a failed homeserver request.
type MatrixError struct {
	Code       string `json:"errcode"`
	Message    string `json:"error"`
	StatusCode int    `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Matrix error codes the bot reacts to.
const (
	MatrixErrForbidden    = "M_FORBIDDEN"
	MatrixErrUnknownToken = "M_UNKNOWN_TOKEN"
	MatrixErrNotFound     = "M_NOT_FOUND"
	MatrixErrLimited      = "M_LIMIT_EXCEEDED"
)

// IsMatrixError reports whether err is a *MatrixError with the given code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

// matrixClient is an authenticated client-server API client.
type matrixClient struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      *slog.Logger
}

func newMatrixClient(homeserver, accessToken string, httpClient *http.Client, logger *slog.Logger) (*matrixClient, error) {
	if homeserver == "" {
		return nil, errors.New("matrix: homeserver URL is required")
	}
	if _, err := url.Parse(homeserver); err != nil {
		return nil, fmt.Errorf("matrix: invalid homeserver URL %q: %w", homeserver, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &matrixClient{
		baseURL:     strings.TrimRight(homeserver, "/"),
		accessToken: accessToken,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// doRequest sends a JSON request and returns the response body. Non-2xx
// responses become *MatrixError.
func (c *matrixClient) doRequest(ctx context.Context, method, path string, requestBody any, query url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("matrix: encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("matrix: create request: %w", err)
	}
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	body, _, err := c.do(req)
	return body, err
}

// do authenticates req, performs it and returns the body and content type.
func (c *matrixClient) do(req *http.Request) ([]byte, string, error) {
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("matrix: request to %s %s failed: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, matrixMaxResponseBytes))
	if err != nil {
		return nil, "", fmt.Errorf("matrix: read response body: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, resp.Header.Get("Content-Type"), nil
	}

	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(body, &matrixErr); jsonErr != nil || matrixErr.Code == "" {
		return nil, "", fmt.Errorf("matrix: unexpected %d response from %s %s: %s",
			resp.StatusCode, req.Method, req.URL.Path, string(body))
	}
	matrixErr.StatusCode = resp.StatusCode
	c.logger.Debug("matrix request failed",
		"method", req.Method, "path", req.URL.Path, "status", resp.StatusCode, "errcode", matrixErr.Code)
	return nil, "", &matrixErr
}

func (c *matrixClient) whoAmI(ctx context.Context) (string, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", nil, nil)
	if err != nil {
		return "", fmt.Errorf("whoami: %w", err)
	}
	var resp struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse whoami response: %w", err)
	}
	return resp.UserID, nil
}

// joinRoom joins by room ID or alias; the homeserver resolves aliases.
func (c *matrixClient) joinRoom(ctx context.Context, roomOrAlias string) (string, error) {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomOrAlias)
	body, err := c.doRequest(ctx, http.MethodPost, path, struct{}{}, nil)
	if err != nil {
		return "", fmt.Errorf("join %s: %w", roomOrAlias, err)
	}
	var resp struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse join response: %w", err)
	}
	return resp.RoomID, nil
}

func (c *matrixClient) leaveRoom(ctx context.Context, roomID string) error {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID) + "/leave"
	if _, err := c.doRequest(ctx, http.MethodPost, path, struct{}{}, nil); err != nil {
		return fmt.Errorf("leave %s: %w", roomID, err)
	}
	return nil
}

func (c *matrixClient) resolveAlias(ctx context.Context, alias string) (string, error) {
	path := "/_matrix/client/v3/directory/room/" + url.PathEscape(alias)
	body, err := c.doRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return "", fmt.Errorf("resolve alias %s: %w", alias, err)
	}
	var resp struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse alias response: %w", err)
	}
	return resp.RoomID, nil
}

// sendEvent PUTs content under a fresh transaction ID and returns the new
// event ID.
func (c *matrixClient) sendEvent(ctx context.Context, roomID, eventType string, content any) (string, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s",
		url.PathEscape(roomID),
		url.PathEscape(eventType),
		url.PathEscape(uuid.NewString()),
	)
	body, err := c.doRequest(ctx, http.MethodPut, path, content, nil)
	if err != nil {
		return "", fmt.Errorf("send %s to %s: %w", eventType, roomID, err)
	}
	var resp struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse send response: %w", err)
	}
	return resp.EventID, nil
}

func (c *matrixClient) getEvent(ctx context.Context, roomID, eventID string) (*matrixEvent, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/event/%s", url.PathEscape(roomID), url.PathEscape(eventID))
	body, err := c.doRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", eventID, err)
	}
	var evt matrixEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("parse event %s: %w", eventID, err)
	}
	if evt.RoomID == "" {
		evt.RoomID = roomID
	}
	return &evt, nil
}

// upload stores data in the media repository and returns its mxc:// URI.
func (c *matrixClient) upload(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	requestURL := c.baseURL + "/_matrix/media/v3/upload?" + url.Values{"filename": {filename}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("matrix: create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	body, _, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}
	var resp struct {
		ContentURI string `json:"content_uri"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse upload response: %w", err)
	}
	return resp.ContentURI, nil
}

// contentURL maps mxc://server/id to its authenticated download URL.
func (c *matrixClient) contentURL(mxc string) (string, error) {
	rest, ok := strings.CutPrefix(mxc, "mxc://")
	if !ok {
		return "", fmt.Errorf("not an mxc URI: %q", mxc)
	}
	server, mediaID, ok := strings.Cut(rest, "/")
	if !ok || server == "" || mediaID == "" {
		return "", fmt.Errorf("malformed mxc URI: %q", mxc)
	}
	return c.baseURL + "/_matrix/client/v1/media/download/" + url.PathEscape(server) + "/" + url.PathEscape(mediaID), nil
}

func (c *matrixClient) download(ctx context.Context, mxc string) ([]byte, string, error) {
	target, err := c.contentURL(mxc)
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("matrix: create request: %w", err)
	}
	data, contentType, err := c.do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", mxc, err)
	}
	return data, contentType, nil
}

func (c *matrixClient) sync(ctx context.Context, since string, timeoutMillis int, filter string) (*syncResponse, error) {
	query := url.Values{}
	if since != "" {
		query.Set("since", since)
	}
	query.Set("timeout", strconv.Itoa(timeoutMillis))
	if filter != "" {
		query.Set("filter", filter)
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/sync", nil, query)
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	var resp syncResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse sync response: %w", err)
	}
	return &resp, nil
}

// matrixEvent is a room event as delivered by /sync and /event.
type matrixEvent struct {
	EventID        string          `json:"event_id"`
	Type           string          `json:"type"`
	Sender         string          `json:"sender"`
	RoomID         string          `json:"room_id,omitempty"`
	OriginServerTS int64           `json:"origin_server_ts"`
	Content        json.RawMessage `json:"content"`
}

type messageContent struct {
	MsgType       string     `json:"msgtype"`
	Body          string     `json:"body"`
	Format        string     `json:"format,omitempty"`
	FormattedBody string     `json:"formatted_body,omitempty"`
	URL           string     `json:"url,omitempty"`
	Info          *mediaInfo `json:"info,omitempty"`
	RelatesTo     *relatesTo `json:"m.relates_to,omitempty"`
}

type mediaInfo struct {
	MimeType string `json:"mimetype,omitempty"`
	Size     int    `json:"size,omitempty"`
	Width    int    `json:"w,omitempty"`
	Height   int    `json:"h,omitempty"`
}

type relatesTo struct {
	InReplyTo *inReplyTo `json:"m.in_reply_to,omitempty"`
}

type inReplyTo struct {
	EventID string `json:"event_id"`
}

type syncResponse struct {
	NextBatch string `json:"next_batch"`
	Rooms     struct {
		Join   map[string]joinedRoom  `json:"join"`
		Invite map[string]invitedRoom `json:"invite"`
	} `json:"rooms"`
}

type joinedRoom struct {
	Timeline struct {
		Events []matrixEvent `json:"events"`
	} `json:"timeline"`
}

type invitedRoom struct {
	InviteState struct {
		Events []matrixEvent `json:"events"`
	} `json:"invite_state"`
}
