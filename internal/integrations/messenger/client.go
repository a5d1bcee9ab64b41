package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"finbot/internal/domain"
	"finbot/internal/integrations/paramstore"
)

const (
	defaultBaseURL  = "https://graph.facebook.com/v19.0"
	defaultTimeout  = 10 * time.Second
	maxQuickReplies = 13
	maxButtons      = 3
	maxTitleRunes   = 20
	profileFields   = "first_name,last_name,locale,timezone"
)

type recipient struct {
	ID string `json:"id"`
}

type quickReply struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Payload     string `json:"payload"`
}

type button struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

type templatePayload struct {
	TemplateType string   `json:"template_type"`
	Text         string   `json:"text"`
	Buttons      []button `json:"buttons"`
}

type attachment struct {
	Type    string          `json:"type"`
	Payload templatePayload `json:"payload"`
}

type message struct {
	Text         string       `json:"text,omitempty"`
	QuickReplies []quickReply `json:"quick_replies,omitempty"`
	Attachment   *attachment  `json:"attachment,omitempty"`
}

// sendRequest is the body of a Send API call.
type sendRequest struct {
	Recipient     recipient `json:"recipient"`
	MessagingType string    `json:"messaging_type,omitempty"`
	Message       *message  `json:"message,omitempty"`
	SenderAction  string    `json:"sender_action,omitempty"`
}

type profileResponse struct {
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Locale    string  `json:"locale"`
	Timezone  float64 `json:"timezone"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx Graph API responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("messenger: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to the Messenger Send API and the user profile API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	tokenMu sync.Mutex
	token   string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client whose page access token is read from
// <paramPrefix>/page-access-token on first use. A fetched token is cached for
// the process lifetime; a failed fetch is retried on the next call.
func NewClient(g Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if g == nil {
		return nil, errors.New("messenger: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("messenger: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		getter:      g,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")
	return c, nil
}

func (c *Client) pageToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	raw, err := c.getter.GetParameter(ctx, paramstore.Name(c.paramPrefix, paramstore.PageAccessTokenName))
	if err != nil {
		return "", fmt.Errorf("messenger: fetch page token: %w", err)
	}
	token, err := paramstore.DecodeToken(raw)
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

// Send renders an Action as the matching Send API message.
func (c *Client) Send(ctx context.Context, a domain.Action) error {
	switch a.Kind {
	case domain.ActionText:
		return c.SendText(ctx, a.Recipient, a.Text)
	case domain.ActionQuickReplies:
		return c.SendQuickReplies(ctx, a.Recipient, a.Text, a.Options)
	case domain.ActionButtons:
		return c.SendButtons(ctx, a.Recipient, a.Text, a.Options)
	}
	return fmt.Errorf("messenger: unknown action kind %q", a.Kind)
}

func (c *Client) SendText(ctx context.Context, to, text string) error {
	return c.post(ctx, sendRequest{
		Recipient:     recipient{ID: to},
		MessagingType: "RESPONSE",
		Message:       &message{Text: text},
	})
}

// SendQuickReplies sends text with up to 13 quick replies.
func (c *Client) SendQuickReplies(ctx context.Context, to, text string, options []domain.Option) error {
	if len(options) > maxQuickReplies {
		options = options[:maxQuickReplies]
	}
	replies := make([]quickReply, 0, len(options))
	for _, o := range options {
		replies = append(replies, quickReply{ContentType: "text", Title: truncate(o.Title, maxTitleRunes), Payload: o.Payload})
	}
	return c.post(ctx, sendRequest{
		Recipient:     recipient{ID: to},
		MessagingType: "RESPONSE",
		Message:       &message{Text: text, QuickReplies: replies},
	})
}

// SendButtons sends a button template with up to 3 postback buttons.
func (c *Client) SendButtons(ctx context.Context, to, text string, options []domain.Option) error {
	if len(options) > maxButtons {
		options = options[:maxButtons]
	}
	buttons := make([]button, 0, len(options))
	for _, o := range options {
		buttons = append(buttons, button{Type: "postback", Title: truncate(o.Title, maxTitleRunes), Payload: o.Payload})
	}
	return c.post(ctx, sendRequest{
		Recipient:     recipient{ID: to},
		MessagingType: "RESPONSE",
		Message: &message{Attachment: &attachment{
			Type:    "template",
			Payload: templatePayload{TemplateType: "button", Text: text, Buttons: buttons},
		}},
	})
}

func (c *Client) SendTyping(ctx context.Context, to string) error {
	return c.post(ctx, sendRequest{Recipient: recipient{ID: to}, SenderAction: "typing_on"})
}

// GetProfile looks up the public profile of a page-scoped user id.
func (c *Client) GetProfile(ctx context.Context, userID string) (domain.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, errors.New("messenger: user id must not be empty")
	}
	token, err := c.pageToken(ctx)
	if err != nil {
		return domain.User{}, err
	}

	q := url.Values{}
	q.Set("fields", profileFields)
	q.Set("access_token", token)
	endpoint := c.baseURL + "/" + url.PathEscape(userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return domain.User{}, fmt.Errorf("messenger: create profile request: %w", err)
	}
	raw, err := c.doJSONRequest(req, endpoint)
	if err != nil {
		return domain.User{}, fmt.Errorf("messenger: profile request failed: %w", err)
	}

	var p profileResponse
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.User{}, fmt.Errorf("messenger: decode profile: %w", err)
	}
	return domain.User{
		ID:        userID,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Locale:    p.Locale,
		Timezone:  p.Timezone,
	}, nil
}

func (c *Client) post(ctx context.Context, body sendRequest) error {
	if strings.TrimSpace(body.Recipient.ID) == "" {
		return errors.New("messenger: recipient must not be empty")
	}
	token, err := c.pageToken(ctx)
	if err != nil {
		return err
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("messenger: marshal request: %w", err)
	}

	endpoint := c.baseURL + "/me/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?access_token="+url.QueryEscape(token), bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("messenger: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if _, err := c.doJSONRequest(req, endpoint); err != nil {
		return fmt.Errorf("messenger: send failed: %w", err)
	}
	return nil
}

// doJSONRequest executes req. url is the endpoint without the access token and
// is only used in errors.
func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, stripToken(doErr)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// stripToken drops the request URL from transport errors so the page token
// never reaches the logs.
func stripToken(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
