package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/patricou/PATTOOL2-sub002/internal/auth"
	"github.com/patricou/PATTOOL2-sub002/internal/wire"
	"github.com/patricou/PATTOOL2-sub002/pkg/logger"
)

const (
	// requestTimeout bounds every REST call.
	requestTimeout = 15 * time.Second

	// errorPayloadMaxBytes is the size under which a textual binary-fetch
	// response is treated as an error payload rather than file content.
	errorPayloadMaxBytes = 512
)

// Client talks to the discussion REST API with a bearer credential.
type Client struct {
	baseURL    string
	tokens     auth.TokenSource
	httpClient *http.Client
}

// NewClient creates a REST client for the given base URL.
func NewClient(baseURL string, tokens auth.TokenSource) *Client {
	return &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// GetDiscussion fetches a discussion by id.
func (c *Client) GetDiscussion(ctx context.Context, discussionID string) (*wire.Discussion, error) {
	if discussionID == "" {
		return nil, fmt.Errorf("discussionID required")
	}
	respBody, err := c.doRequest(ctx, "GET", "/discussions/"+url.PathEscape(discussionID), "", nil)
	if err != nil {
		return nil, err
	}
	var discussion wire.Discussion
	if err := json.Unmarshal(respBody, &discussion); err != nil {
		return nil, fmt.Errorf("parse discussion: %w", err)
	}
	return &discussion, nil
}

// ListMessages fetches the snapshot message list for a discussion.
func (c *Client) ListMessages(ctx context.Context, discussionID string) ([]wire.Message, error) {
	if discussionID == "" {
		return nil, fmt.Errorf("discussionID required")
	}
	endpoint := fmt.Sprintf("/discussions/%s/messages", url.PathEscape(discussionID))
	respBody, err := c.doRequest(ctx, "GET", endpoint, "", nil)
	if err != nil {
		return nil, err
	}
	var resp wire.ListMessagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}
	return resp.Messages, nil
}

// CreateMessage posts a new message as multipart form data (text plus
// optional image and video parts) and returns the created message with its
// server-assigned id.
func (c *Client) CreateMessage(ctx context.Context, discussionID string, draft wire.MessageDraft) (*wire.Message, error) {
	if discussionID == "" {
		return nil, fmt.Errorf("discussionID required")
	}
	if draft.Text == "" && draft.Image == nil && draft.Video == nil {
		return nil, fmt.Errorf("message needs a body or an attachment")
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("text", draft.Text); err != nil {
		return nil, fmt.Errorf("encode text field: %w", err)
	}
	if draft.LocalID != "" {
		if err := form.WriteField("localId", draft.LocalID); err != nil {
			return nil, fmt.Errorf("encode localId field: %w", err)
		}
	}
	if err := writeUpload(form, "image", draft.Image); err != nil {
		return nil, err
	}
	if err := writeUpload(form, "video", draft.Video); err != nil {
		return nil, err
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("finish form: %w", err)
	}

	endpoint := fmt.Sprintf("/discussions/%s/messages", url.PathEscape(discussionID))
	respBody, err := c.doRequest(ctx, "POST", endpoint, form.FormDataContentType(), buf.Bytes())
	if err != nil {
		return nil, err
	}
	var resp wire.CreateMessageResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parse created message: %w", err)
	}
	return &resp.Message, nil
}

// UpdateMessage replaces the text body of an existing message.
func (c *Client) UpdateMessage(ctx context.Context, messageID, text string) (*wire.Message, error) {
	if messageID == "" {
		return nil, fmt.Errorf("messageID required")
	}
	body, err := json.Marshal(wire.UpdateMessageRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshal update: %w", err)
	}
	endpoint := "/discussions/messages/" + url.PathEscape(messageID)
	respBody, err := c.doRequest(ctx, "PUT", endpoint, "application/json", body)
	if err != nil {
		return nil, err
	}
	var resp wire.UpdateMessageResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parse updated message: %w", err)
	}
	return &resp.Message, nil
}

// DeleteMessage deletes a message by id.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	if messageID == "" {
		return fmt.Errorf("messageID required")
	}
	_, err := c.doRequest(ctx, "DELETE", "/discussions/messages/"+url.PathEscape(messageID), "", nil)
	return err
}

// FetchFile downloads a discussion attachment and returns its raw bytes and
// content type.
//
// A small response of a textual content type is an error payload from the
// server, not file content, and is surfaced as a failure.
func (c *Client) FetchFile(ctx context.Context, discussionID, category, filename string) ([]byte, string, error) {
	if discussionID == "" || category == "" || filename == "" {
		return nil, "", fmt.Errorf("discussionID, category, and filename required")
	}
	endpoint := fmt.Sprintf("/discussions/files/%s/%s/%s",
		url.PathEscape(discussionID), url.PathEscape(category), url.PathEscape(filename))

	req, err := c.newRequest(ctx, "GET", endpoint, "", nil)
	if err != nil {
		return nil, "", err
	}
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, "", err
	}
	contentType := httpResp.Header.Get("Content-Type")
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		c.noteRejected(httpResp.StatusCode)
		return nil, "", fmt.Errorf("fetch %s failed: status %d: %s", filename, httpResp.StatusCode, string(data))
	}
	if len(data) < errorPayloadMaxBytes && isTextualContentType(contentType) {
		return nil, "", fmt.Errorf("fetch %s returned error payload: %s", filename, string(data))
	}
	return data, contentType, nil
}

// writeUpload adds one file part to a multipart form.
func writeUpload(form *multipart.Writer, field string, upload *wire.Upload) error {
	if upload == nil {
		return nil
	}
	part, err := form.CreateFormFile(field, upload.Filename)
	if err != nil {
		return fmt.Errorf("create %s part: %w", field, err)
	}
	if _, err := part.Write(upload.Content); err != nil {
		return fmt.Errorf("write %s part: %w", field, err)
	}
	return nil
}

// isTextualContentType reports whether a content type describes text rather
// than binary media.
func isTextualContentType(contentType string) bool {
	switch {
	case contentType == "":
		return false
	case len(contentType) >= 5 && contentType[:5] == "text/":
		return true
	case hasMediaType(contentType, "application/json"),
		hasMediaType(contentType, "application/xml"),
		hasMediaType(contentType, "application/problem+json"):
		return true
	default:
		return false
	}
}

// hasMediaType matches a content type ignoring any charset parameters.
func hasMediaType(contentType, mediaType string) bool {
	return contentType == mediaType ||
		(len(contentType) > len(mediaType) && contentType[:len(mediaType)+1] == mediaType+";")
}

// newRequest builds an authenticated request. A failed token fetch still
// produces a request without the header so the server can reject it
// uniformly.
func (c *Client) newRequest(ctx context.Context, method, path, contentType string, body []byte) (*http.Request, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("server URL not set")
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		logger.Warnf("token fetch failed, sending unauthenticated request: %v", err)
	} else if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

func (c *Client) doRequest(ctx context.Context, method, path, contentType string, body []byte) ([]byte, error) {
	req, err := c.newRequest(ctx, method, path, contentType, body)
	if err != nil {
		return nil, err
	}
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		c.noteRejected(httpResp.StatusCode)
		return nil, fmt.Errorf("request failed: status %d: %s", httpResp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// noteRejected drops a cached credential after the server refuses it, so the
// next request fetches a fresh one instead of replaying the stale token for
// the rest of the cache TTL.
func (c *Client) noteRejected(statusCode int) {
	if statusCode != http.StatusUnauthorized {
		return
	}
	if inv, ok := c.tokens.(interface{ Invalidate() }); ok {
		logger.Debugf("credential rejected, invalidating cached token")
		inv.Invalidate()
	}
}
