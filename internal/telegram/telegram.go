// Package telegram implements the out-of-band verification channel: it
// pushes status text and screenshots to the operator and receives the
// one-time code the operator sends back, over the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"time"
)

// ErrCodeTimeout is returned when the operator did not supply a code
// within the wait deadline.
var ErrCodeTimeout = errors.New("timed out waiting for operator code")

// ErrDisabled is returned from code waits when the channel has no
// credentials configured.
var ErrDisabled = errors.New("telegram channel not configured")

// codePattern is the operator command grammar: /code followed by 6-8
// digits, nothing else on the line.
var codePattern = regexp.MustCompile(`^/code\s+(\d{6,8})$`)

const (
	defaultAPIBase = "https://api.telegram.org"

	// longPollWindow is the server-side getUpdates hold time.
	longPollWindow = 20 * time.Second

	// errBackoff spaces retries after a failed getUpdates call.
	errBackoff = 2 * time.Second

	captionLimit = 1024
)

// Channel is a Telegram bot bound to a single authorized operator chat.
//
// The read cursor (update offset) is process-local and mutated only
// inside AwaitOperatorCode; the orchestrator runs stages sequentially,
// so at most one wait is outstanding at a time.
type Channel struct {
	token  string
	chatID string
	api    string
	client *http.Client

	// Logf receives non-fatal channel errors. Defaults to a no-op.
	Logf func(format string, args ...any)
}

// Option configures a Channel.
type Option func(*Channel)

// WithAPIBase overrides the Bot API origin. Used by tests.
func WithAPIBase(base string) Option {
	return func(c *Channel) { c.api = base }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Channel) { c.client = client }
}

// New returns a channel for the given bot token and operator chat id.
// Either value may be empty, which yields a disabled channel whose
// notifications are dropped silently.
func New(token, chatID string, opts ...Option) *Channel {
	c := &Channel{
		token:  token,
		chatID: chatID,
		api:    defaultAPIBase,
		client: &http.Client{Timeout: 30 * time.Second},
		Logf:   func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether the channel has credentials.
func (c *Channel) Enabled() bool {
	return c.token != "" && c.chatID != ""
}

// Notify pushes a text message to the operator. Failures are logged and
// swallowed; a broken channel must never fail the run.
func (c *Channel) Notify(ctx context.Context, text string) {
	if !c.Enabled() {
		return
	}

	payload := map[string]any{
		"chat_id":    c.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if err := c.call(ctx, "sendMessage", payload, nil); err != nil {
		c.Logf("telegram sendMessage failed: %v", err)
	}
}

// NotifyPhoto pushes an image file with an optional caption. Failures
// are logged and swallowed, including a missing file.
func (c *Channel) NotifyPhoto(ctx context.Context, path, caption string) {
	if !c.Enabled() {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		c.Logf("telegram sendPhoto: %v", err)
		return
	}
	defer f.Close()

	if len(caption) > captionLimit {
		caption = caption[:captionLimit]
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("chat_id", c.chatID)
	_ = w.WriteField("caption", caption)
	part, err := w.CreateFormFile("photo", path)
	if err == nil {
		_, err = io.Copy(part, f)
	}
	if err != nil {
		c.Logf("telegram sendPhoto: build body: %v", err)
		return
	}
	if err := w.Close(); err != nil {
		c.Logf("telegram sendPhoto: close body: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendPhoto"), &body)
	if err != nil {
		c.Logf("telegram sendPhoto: %v", err)
		return
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		c.Logf("telegram sendPhoto failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		c.Logf("telegram sendPhoto status %d: %s", resp.StatusCode, raw)
	}
}

// AwaitOperatorCode blocks until the authorized operator sends a
// message matching the /code grammar, returning the digit string.
//
// The read cursor is first advanced past any backlog so a code left
// over from a previous run or stage is never consumed. Messages from
// other chats are ignored without advancing the match. Returns
// ErrCodeTimeout when the wait deadline passes with no valid code.
//
// Only one wait may be in flight at a time; the sequential stage
// machine guarantees this.
func (c *Channel) AwaitOperatorCode(ctx context.Context, timeout time.Duration) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}

	offset := c.flushBacklog(ctx)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		updates, err := c.getUpdates(ctx, offset, longPollWindow)
		if err != nil {
			c.Logf("telegram getUpdates failed: %v", err)
			if err := sleepCtx(ctx, errBackoff); err != nil {
				return "", err
			}
			continue
		}

		for _, upd := range updates {
			offset = upd.UpdateID + 1

			if upd.Message == nil || upd.Message.Chat == nil {
				continue
			}
			if strconv.FormatInt(upd.Message.Chat.ID, 10) != c.chatID {
				continue
			}

			if m := codePattern.FindStringSubmatch(upd.Message.Text); m != nil {
				return m[1], nil
			}
		}
	}

	return "", ErrCodeTimeout
}

// flushBacklog advances the cursor to just past the newest pending
// update so stale operator messages cannot leak into this wait.
func (c *Channel) flushBacklog(ctx context.Context) int64 {
	updates, err := c.getUpdates(ctx, 0, 0)
	if err != nil {
		c.Logf("telegram flush backlog failed: %v", err)
		return 0
	}
	if len(updates) == 0 {
		return 0
	}
	return updates[len(updates)-1].UpdateID + 1
}

type update struct {
	UpdateID int64    `json:"update_id"`
	Message  *message `json:"message,omitempty"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Chat      *chat  `json:"chat,omitempty"`
}

type chat struct {
	ID int64 `json:"id"`
}

func (c *Channel) getUpdates(ctx context.Context, offset int64, poll time.Duration) ([]update, error) {
	q := url.Values{}
	q.Set("timeout", strconv.Itoa(int(poll/time.Second)))
	if offset > 0 {
		q.Set("offset", strconv.FormatInt(offset, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.methodURL("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		OK     bool     `json:"ok"`
		Result []update `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram getUpdates replied ok=false")
	}
	return result.Result, nil
}

func (c *Channel) call(ctx context.Context, method string, payload map[string]any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram %s status %d: %s", method, resp.StatusCode, raw)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Channel) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.api, c.token, method)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
