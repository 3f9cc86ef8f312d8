// Package api is the REST client for the chat backend.
//
// Every call waits on a shared rate limiter, carries the bearer token and is
// bounded by the client timeout. Transport failures and non-2xx responses
// are returned as chaterr.Transport and never retried. A list endpoint whose
// body is not a JSON array yields an empty list.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/codefionn/ictchat/internal/chaterr"
	"github.com/codefionn/ictchat/internal/logger"
	"github.com/codefionn/ictchat/internal/metrics"
	"github.com/codefionn/ictchat/internal/models"
	"github.com/codefionn/ictchat/internal/securemem"
)

// Options tunes a Client.
type Options struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Metrics           *metrics.Metrics
}

// Client talks to the chat REST endpoints on behalf of one token.
type Client struct {
	baseURL string
	token   *securemem.Token
	http    *http.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     *logger.Logger
}

// New creates a client rooted at baseURL.
func New(baseURL string, token *securemem.Token, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 10
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		metrics: opts.Metrics,
		log:     logger.Global().WithPrefix("api"),
	}
}

// History returns the message history of a room.
func (c *Client) History(ctx context.Context, room models.Room) ([]models.Message, error) {
	path := "/messages/" + url.PathEscape(room.ID.String())
	if room.Kind == models.RoomGroup {
		path = "/groupMessages/" + url.PathEscape(room.ID.String())
	}
	return getList[models.Message](ctx, c, "api.history", path)
}

// Conversations returns the user's conversation list.
func (c *Client) Conversations(ctx context.Context) ([]models.Conversation, error) {
	out, err := getList[models.Conversation](ctx, c, "api.conversations", "/conversations")
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].HasConversation = true
	}
	return out, nil
}

// SearchUsers returns users matching term.
func (c *Client) SearchUsers(ctx context.Context, term string) ([]models.User, error) {
	return getList[models.User](ctx, c, "api.search", "/users?search="+url.QueryEscape(term))
}

// AllUsers returns every user visible to the caller.
func (c *Client) AllUsers(ctx context.Context) ([]models.User, error) {
	return getList[models.User](ctx, c, "api.all_users", "/all_users")
}

type createRequest struct {
	User1ID models.ID `json:"user1_id"`
	User2ID models.ID `json:"user2_id"`
}

type createResponse struct {
	Success      bool                 `json:"success"`
	Error        string               `json:"error,omitempty"`
	Conversation *models.Conversation `json:"conversation"`
}

// CreateConversation creates a conversation between self and other.
func (c *Client) CreateConversation(ctx context.Context, self, other models.ID) (*models.Conversation, error) {
	const op = "api.create_conversation"

	body, err := json.Marshal(createRequest{User1ID: self, User2ID: other})
	if err != nil {
		return nil, chaterr.Wrap(chaterr.KindProtocol, op, err)
	}

	var resp createResponse
	if err := c.do(ctx, op, http.MethodPost, "/createConversation", bytes.NewReader(body), "application/json", &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Conversation == nil {
		msg := resp.Error
		if msg == "" {
			msg = "conversation not created"
		}
		return nil, c.fail(chaterr.New(chaterr.KindProtocol, op, msg))
	}
	resp.Conversation.HasConversation = true
	return resp.Conversation, nil
}

// DeleteMessage deletes a message on the server.
func (c *Client) DeleteMessage(ctx context.Context, id models.ID) error {
	return c.do(ctx, "api.delete_message", http.MethodDelete, "/delete_message/"+url.PathEscape(id.String()), nil, "", nil)
}

// File is one attachment for Upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// IsImage reports whether the file's MIME type is image/*.
func (f File) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(f.ContentType), "image/")
}

type uploadResponse struct {
	URLs []string `json:"urls"`
}

// Upload sends files as one multipart request and returns their URLs, in
// the same order as files.
func (c *Client) Upload(ctx context.Context, username string, files []File) ([]string, error) {
	const op = "api.upload"

	var (
		buf   bytes.Buffer
		total int
	)
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, f.Name))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, chaterr.Wrap(chaterr.KindProtocol, op, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, chaterr.Wrap(chaterr.KindProtocol, op, err)
		}
		total += len(f.Data)
	}
	if err := mw.WriteField("username", username); err != nil {
		return nil, chaterr.Wrap(chaterr.KindProtocol, op, err)
	}
	if err := mw.Close(); err != nil {
		return nil, chaterr.Wrap(chaterr.KindProtocol, op, err)
	}

	c.log.Info("uploading %d file(s), %s", len(files), humanize.Bytes(uint64(total)))

	var resp uploadResponse
	if err := c.do(ctx, op, http.MethodPost, "/upload_file", &buf, mw.FormDataContentType(), &resp); err != nil {
		return nil, err
	}
	if len(resp.URLs) != len(files) {
		return nil, c.fail(chaterr.New(chaterr.KindProtocol, op,
			fmt.Sprintf("expected %d urls, got %d", len(files), len(resp.URLs))))
	}
	return resp.URLs, nil
}

// getList fetches a JSON array. A body that is not a well-formed array
// yields an empty list and no error.
func getList[T any](ctx context.Context, c *Client, op, path string) ([]T, error) {
	var raw json.RawMessage
	if err := c.do(ctx, op, http.MethodGet, path, nil, "", &raw); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		c.log.Warn("%s: expected a list, got %s", op, preview(trimmed))
		c.metrics.RequestError(op, chaterr.KindProtocol.String())
		return []T{}, nil
	}
	var out []T
	if err := json.Unmarshal(trimmed, &out); err != nil {
		c.log.Warn("%s: malformed list: %v", op, err)
		c.metrics.RequestError(op, chaterr.KindProtocol.String())
		return []T{}, nil
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return c.fail(chaterr.Wrap(chaterr.KindTransport, op, err))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return c.fail(chaterr.Wrap(chaterr.KindTransport, op, err))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if !c.token.IsEmpty() {
		req.Header.Set("Authorization", "Bearer "+c.token.Reveal())
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return c.fail(chaterr.Wrap(chaterr.KindTransport, op, err))
	}
	defer resp.Body.Close()
	c.log.Debug("%s %s -> %d in %s", method, path, resp.StatusCode, time.Since(start).Round(time.Millisecond))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return c.fail(chaterr.HTTPStatus(op, resp.StatusCode))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return c.fail(chaterr.Wrap(chaterr.KindProtocol, op, err))
	}
	return nil
}

func (c *Client) fail(err error) error {
	if e, ok := err.(*chaterr.Error); ok {
		c.metrics.RequestError(e.Op, e.Kind.String())
	}
	c.log.Warn("%v", err)
	return err
}

func preview(b []byte) string {
	const limit = 64
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
