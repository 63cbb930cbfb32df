// Package mailbox is a thin read-only client for the Gmail REST API. Two
// providers deliver guest lists only by email, so ingestion searches the
// mailbox, walks MIME parts and pulls CSV attachments.
package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"guestlist/internal/source"
)

const defaultBaseURL = "https://gmail.googleapis.com/gmail/v1"

// Client reads messages from one mailbox.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option adjusts a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API host.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = base }
}

// WithHTTPClient replaces the underlying HTTP client, dropping the OAuth
// transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New builds a Client from a stored OAuth token file.
func New(ctx context.Context, tokenFile string, opts ...Option) (*Client, error) {
	c := &Client{baseURL: defaultBaseURL}

	if tokenFile != "" {
		raw, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("read mailbox token: %w", err)
		}
		var token oauth2.Token
		if err := json.Unmarshal(raw, &token); err != nil {
			return nil, fmt.Errorf("parse mailbox token: %w", err)
		}
		c.httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&token))
		c.httpClient.Timeout = 30 * time.Second
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		return nil, fmt.Errorf("mailbox client has no credentials")
	}
	return c, nil
}

type messageList struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
}

// Search returns the ids of messages matching query received after the
// cutoff, newest first.
func (c *Client) Search(ctx context.Context, query string, after time.Time) ([]string, error) {
	q := query + " after:" + strconv.FormatInt(after.Unix(), 10)

	var ids []string
	pageToken := ""
	for {
		params := url.Values{}
		params.Set("q", q)
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var page messageList
		if err := c.get(ctx, "/users/me/messages?"+params.Encode(), &page); err != nil {
			return nil, err
		}
		for _, m := range page.Messages {
			ids = append(ids, m.ID)
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	return ids, nil
}

// Message is one mail with its MIME tree flattened enough for extraction.
type Message struct {
	ID      string  `json:"id"`
	Payload payload `json:"payload"`
}

type payload struct {
	MimeType string    `json:"mimeType"`
	Filename string    `json:"filename"`
	Headers  []header  `json:"headers"`
	Body     body      `json:"body"`
	Parts    []payload `json:"parts"`
}

type header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type body struct {
	Data         string `json:"data"`
	AttachmentID string `json:"attachmentId"`
}

// Message fetches one full message.
func (c *Client) Message(ctx context.Context, id string) (*Message, error) {
	var msg Message
	if err := c.get(ctx, "/users/me/messages/"+id+"?format=full", &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Attachment fetches and decodes one attachment body.
func (c *Client) Attachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	var att struct {
		Data string `json:"data"`
	}
	path := "/users/me/messages/" + messageID + "/attachments/" + attachmentID
	if err := c.get(ctx, path, &att); err != nil {
		return nil, err
	}
	data, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(att.Data)
	if err != nil {
		return nil, fmt.Errorf("decode attachment %s: %w", attachmentID, err)
	}
	return data, nil
}

// Subject returns the message subject header.
func (m *Message) Subject() string {
	for _, h := range m.Payload.Headers {
		if h.Name == "Subject" {
			return h.Value
		}
	}
	return ""
}

// HTMLBody returns the decoded text/html part, or empty when there is none.
func (m *Message) HTMLBody() string {
	return m.Payload.findBody("text/html")
}

// PlainBody returns the decoded text/plain part, or empty when there is none.
func (m *Message) PlainBody() string {
	return m.Payload.findBody("text/plain")
}

func (p *payload) findBody(mimeType string) string {
	if p.MimeType == mimeType && p.Body.Data != "" {
		decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(p.Body.Data)
		if err != nil {
			return ""
		}
		return string(decoded)
	}
	for i := range p.Parts {
		if found := p.Parts[i].findBody(mimeType); found != "" {
			return found
		}
	}
	return ""
}

// AttachmentRef names one attachment in a message.
type AttachmentRef struct {
	Filename     string
	AttachmentID string
}

// Attachments lists the message's attachments.
func (m *Message) Attachments() []AttachmentRef {
	var refs []AttachmentRef
	m.Payload.collectAttachments(&refs)
	return refs
}

func (p *payload) collectAttachments(refs *[]AttachmentRef) {
	if p.Filename != "" && p.Body.AttachmentID != "" {
		*refs = append(*refs, AttachmentRef{Filename: p.Filename, AttachmentID: p.Body.AttachmentID})
	}
	for i := range p.Parts {
		p.Parts[i].collectAttachments(refs)
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return source.Transient(fmt.Errorf("fetch %s: %w", path, err))
	}
	defer resp.Body.Close()

	if err := source.CheckStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
