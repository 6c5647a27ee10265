package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

// fakeBotAPI is an in-memory Bot API: getUpdates serves queued updates
// honoring the offset cursor, sendMessage records payloads.
type fakeBotAPI struct {
	mu      sync.Mutex
	updates []update
	sent    []map[string]any
}

func (f *fakeBotAPI) push(id int64, chatID int64, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update{
		UpdateID: id,
		Message:  &message{MessageID: id, Text: text, Chat: &chat{ID: chatID}},
	})
}

func (f *fakeBotAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case len(r.URL.Path) > 10 && r.URL.Path[len(r.URL.Path)-10:] == "getUpdates":
			offset, _ := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
			f.mu.Lock()
			var pending []update
			for _, u := range f.updates {
				if u.UpdateID >= offset {
					pending = append(pending, u)
				}
			}
			f.mu.Unlock()
			resp := map[string]any{"ok": true, "result": pending}
			if err := json.NewEncoder(w).Encode(resp); err != nil {
				t.Errorf("encode getUpdates: %v", err)
			}
		case len(r.URL.Path) > 11 && r.URL.Path[len(r.URL.Path)-11:] == "sendMessage":
			var payload map[string]any
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Errorf("decode sendMessage: %v", err)
			}
			f.mu.Lock()
			f.sent = append(f.sent, payload)
			f.mu.Unlock()
			fmt.Fprint(w, `{"ok":true}`)
		default:
			http.NotFound(w, r)
		}
	})
	return mux
}

func newTestChannel(t *testing.T, api *fakeBotAPI) *Channel {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	ch := New("test-token", "1001", WithAPIBase(srv.URL))
	ch.Logf = t.Logf
	return ch
}

func TestEnabled(t *testing.T) {
	if New("", "").Enabled() {
		t.Error("channel without credentials should be disabled")
	}
	if !New("tok", "42").Enabled() {
		t.Error("channel with credentials should be enabled")
	}
}

func TestNotify_Disabled(t *testing.T) {
	// Must not panic or hit the network.
	New("", "").Notify(context.Background(), "hello")
}

func TestNotify_SendsHTML(t *testing.T) {
	api := &fakeBotAPI{}
	ch := newTestChannel(t, api)

	ch.Notify(context.Background(), "<b>status</b>")

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(api.sent))
	}
	if api.sent[0]["text"] != "<b>status</b>" {
		t.Errorf("text = %v", api.sent[0]["text"])
	}
	if api.sent[0]["parse_mode"] != "HTML" {
		t.Errorf("parse_mode = %v", api.sent[0]["parse_mode"])
	}
	if api.sent[0]["chat_id"] != "1001" {
		t.Errorf("chat_id = %v", api.sent[0]["chat_id"])
	}
}

func TestAwaitOperatorCode_BacklogDoesNotLeak(t *testing.T) {
	api := &fakeBotAPI{}
	// Stale codes from a previous run sit in the backlog.
	api.push(1, 1001, "/code 111111")
	api.push(2, 1001, "/code 222222")

	ch := newTestChannel(t, api)

	_, err := ch.AwaitOperatorCode(context.Background(), 250*time.Millisecond)
	if !errors.Is(err, ErrCodeTimeout) {
		t.Fatalf("AwaitOperatorCode = %v, want ErrCodeTimeout", err)
	}
}

func TestAwaitOperatorCode_AcceptsFreshCode(t *testing.T) {
	api := &fakeBotAPI{}
	api.push(1, 1001, "/code 999999") // backlog, must be discarded

	ch := newTestChannel(t, api)

	go func() {
		time.Sleep(50 * time.Millisecond)
		api.push(2, 1001, "/code 482913")
	}()

	code, err := ch.AwaitOperatorCode(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("AwaitOperatorCode error: %v", err)
	}
	if code != "482913" {
		t.Errorf("code = %q, want 482913", code)
	}
}

func TestAwaitOperatorCode_FiltersChatAndGrammar(t *testing.T) {
	api := &fakeBotAPI{}
	ch := newTestChannel(t, api)

	go func() {
		time.Sleep(50 * time.Millisecond)
		api.push(1, 9999, "/code 123456")  // wrong chat
		api.push(2, 1001, "/code 12AB34")  // invalid grammar
		api.push(3, 1001, "code 123456")   // missing command
		api.push(4, 1001, "/code 12345")   // too short
		api.push(5, 1001, "/code 482913")  // first valid match
	}()

	code, err := ch.AwaitOperatorCode(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("AwaitOperatorCode error: %v", err)
	}
	if code != "482913" {
		t.Errorf("code = %q, want 482913", code)
	}
}

func TestAwaitOperatorCode_Disabled(t *testing.T) {
	_, err := New("", "").AwaitOperatorCode(context.Background(), time.Second)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("AwaitOperatorCode = %v, want ErrDisabled", err)
	}
}

func TestCodePattern(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"/code 123456", "123456"},
		{"/code 12345678", "12345678"},
		{"/code  482913", "482913"},
		{"/code 12345", ""},
		{"/code 123456789", ""},
		{"/code 12AB34", ""},
		{"please /code 123456", ""},
		{"/code 123456 extra", ""},
	}
	for _, tc := range cases {
		m := codePattern.FindStringSubmatch(tc.text)
		got := ""
		if m != nil {
			got = m[1]
		}
		if got != tc.want {
			t.Errorf("codePattern(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}
