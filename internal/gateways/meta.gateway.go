package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chatrelay/whatsapp-gateway/internal/model"
	"github.com/chatrelay/whatsapp-gateway/pkg/logger"
	"github.com/valyala/fasthttp"
)

var (
	// ErrMediaNotFound means the provider no longer holds the media object.
	// Permanent, do not retry.
	ErrMediaNotFound = errors.New("media not found")
	// ErrUnauthorized means the tenant token was rejected. Permanent until
	// credentials are rotated.
	ErrUnauthorized = errors.New("provider rejected credentials")
	// ErrSendRejected means the provider refused an outbound message.
	ErrSendRejected = errors.New("provider rejected send")
)

// Credentials are per-tenant Graph API credentials, passed on every call.
// The client itself holds no tenant state.
type Credentials struct {
	PhoneNumberID string
	AccessToken   string
}

// MediaInfo is the provider's media-metadata record. The download URL it
// carries is short-lived.
type MediaInfo struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
}

// SendResponse carries the provider-assigned message id of an accepted send.
type SendResponse struct {
	MetaMessageID string
}

type sendAPIResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

type textPayload struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type mediaObject struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

type Config struct {
	BaseURL         string
	Timeout         time.Duration
	MaxConns        int
	ReadBufferSize  int
	WriteBufferSize int
}

// Client talks to the Graph API through one pooled fasthttp client shared by
// every tenant.
type Client struct {
	config *Config
	client *fasthttp.Client
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxConns <= 0 {
		config.MaxConns = 512
	}

	httpClient := &fasthttp.Client{
		MaxConnsPerHost:     config.MaxConns,
		ReadTimeout:         config.Timeout,
		WriteTimeout:        config.Timeout,
		MaxIdleConnDuration: 60 * time.Second,
		ReadBufferSize:      config.ReadBufferSize,
		WriteBufferSize:     config.WriteBufferSize,
	}

	logger.Info("Graph API client initialized", "base_url", config.BaseURL, "timeout", config.Timeout)

	return &Client{config: config, client: httpClient}, nil
}

// SendText posts a plain text message to the counterparty phone number.
func (c *Client) SendText(ctx context.Context, creds Credentials, to, body string) (*SendResponse, error) {
	payload := textPayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
	}
	payload.Text.Body = body

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	return c.postMessage(ctx, creds, reqBody)
}

// SendMedia posts a link-referenced media message. The provider fetches the
// binary from the link itself.
func (c *Client) SendMedia(ctx context.Context, creds Credentials, to string, mediaType model.MessageType, link, caption string) (*SendResponse, error) {
	if !mediaType.IsMediaType() {
		return nil, fmt.Errorf("%q is not a media type", mediaType)
	}

	obj, err := json.Marshal(mediaObject{Link: link, Caption: caption})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal media object: %w", err)
	}

	// the media object sits under a key named after its type
	raw := map[string]json.RawMessage{
		"messaging_product": json.RawMessage(`"whatsapp"`),
		"to":                json.RawMessage(fmt.Sprintf("%q", to)),
		"type":              json.RawMessage(fmt.Sprintf("%q", mediaType)),
		string(mediaType):   obj,
	}
	reqBody, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	return c.postMessage(ctx, creds, reqBody)
}

func (c *Client) postMessage(ctx context.Context, creds Credentials, reqBody []byte) (*SendResponse, error) {
	url := fmt.Sprintf("%s/%s/messages", c.config.BaseURL, creds.PhoneNumberID)

	start := time.Now()
	status, respBody, err := c.doRequest(ctx, creds, fasthttp.MethodPost, url, reqBody)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, err
	}

	var resp sendAPIResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden {
		return nil, ErrUnauthorized
	}
	if status != fasthttp.StatusOK && status != fasthttp.StatusCreated {
		if resp.Error != nil {
			return nil, fmt.Errorf("%w: %s (code %d)", ErrSendRejected, resp.Error.Message, resp.Error.Code)
		}
		return nil, fmt.Errorf("%w: unexpected status code %d", ErrSendRejected, status)
	}
	if len(resp.Messages) == 0 {
		return nil, fmt.Errorf("%w: response carries no message id", ErrSendRejected)
	}

	logger.Info("message accepted by provider",
		"meta_message_id", resp.Messages[0].ID,
		"latency_ms", latency)

	return &SendResponse{MetaMessageID: resp.Messages[0].ID}, nil
}

// GetMediaInfo fetches the metadata record for a media id. A 404 maps to
// ErrMediaNotFound, a 401/403 to ErrUnauthorized; anything else is reported
// as-is and should be treated as transient.
func (c *Client) GetMediaInfo(ctx context.Context, creds Credentials, mediaID string) (*MediaInfo, error) {
	url := fmt.Sprintf("%s/%s", c.config.BaseURL, mediaID)

	status, respBody, err := c.doRequest(ctx, creds, fasthttp.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	switch {
	case status == fasthttp.StatusNotFound:
		return nil, ErrMediaNotFound
	case status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden:
		return nil, ErrUnauthorized
	case status != fasthttp.StatusOK:
		return nil, fmt.Errorf("unexpected status code %d fetching media info", status)
	}

	var info MediaInfo
	if err := json.Unmarshal(respBody, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal media info: %w", err)
	}
	if info.URL == "" {
		return nil, ErrMediaNotFound
	}

	return &info, nil
}

// Download fetches the media binary from the short-lived URL returned by
// GetMediaInfo. The URL is served by the provider's CDN and still requires
// the tenant bearer token.
func (c *Client) Download(ctx context.Context, creds Credentials, url string) ([]byte, error) {
	status, body, err := c.doRequest(ctx, creds, fasthttp.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	switch {
	case status == fasthttp.StatusNotFound:
		return nil, ErrMediaNotFound
	case status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden:
		return nil, ErrUnauthorized
	case status != fasthttp.StatusOK:
		return nil, fmt.Errorf("unexpected status code %d downloading media", status)
	}

	return body, nil
}

func (c *Client) doRequest(ctx context.Context, creds Credentials, method, url string, body []byte) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())

	return resp.StatusCode(), result, nil
}
