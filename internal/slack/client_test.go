package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
)

// --- Mock Slack API ---

type postedMessage struct {
	channel string
	options int
}

type mockAPI struct {
	mu        sync.Mutex
	posted    []postedMessage
	postErr   error
	replies   [][]slackapi.Message // one slice per page
	repliesIn []*slackapi.GetConversationRepliesParameters
	reactions []string
	uploads   []slackapi.UploadFileParameters
}

func (m *mockAPI) PostMessageContext(_ context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return "", "", m.postErr
	}
	m.posted = append(m.posted, postedMessage{channel: channelID, options: len(options)})
	return channelID, fmt.Sprintf("1700000000.%06d", len(m.posted)), nil
}

func (m *mockAPI) UpdateMessageContext(_ context.Context, channelID, ts string, _ ...slackapi.MsgOption) (string, string, string, error) {
	return channelID, ts, "", nil
}

func (m *mockAPI) DeleteMessageContext(_ context.Context, channel, ts string) (string, string, error) {
	return channel, ts, nil
}

func (m *mockAPI) GetConversationRepliesContext(_ context.Context, params *slackapi.GetConversationRepliesParameters) ([]slackapi.Message, bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page := len(m.repliesIn)
	m.repliesIn = append(m.repliesIn, params)
	if page >= len(m.replies) {
		return nil, false, "", nil
	}
	hasMore := page < len(m.replies)-1
	next := ""
	if hasMore {
		next = fmt.Sprintf("cursor-%d", page+1)
	}
	return m.replies[page], hasMore, next, nil
}

func (m *mockAPI) UploadFileContext(_ context.Context, params slackapi.UploadFileParameters) (*slackapi.FileSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads = append(m.uploads, params)
	return &slackapi.FileSummary{ID: "F123", Title: params.Title}, nil
}

func (m *mockAPI) GetUserInfoContext(_ context.Context, user string) (*slackapi.User, error) {
	if user == "UMISSING" {
		return nil, slackapi.SlackErrorResponse{Err: "user_not_found"}
	}
	u := &slackapi.User{ID: user, Name: "ada", RealName: "Ada Lovelace", TZ: "Europe/London"}
	u.Profile.DisplayName = "ada"
	return u, nil
}

func (m *mockAPI) GetConversationInfoContext(_ context.Context, input *slackapi.GetConversationInfoInput) (*slackapi.Channel, error) {
	ch := &slackapi.Channel{}
	ch.ID = input.ChannelID
	ch.Name = "general"
	ch.IsPrivate = true
	ch.Topic.Value = "launch"
	return ch, nil
}

func (m *mockAPI) AddReactionContext(_ context.Context, name string, item slackapi.ItemRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, "+"+name+"@"+item.Timestamp)
	return nil
}

func (m *mockAPI) RemoveReactionContext(_ context.Context, name string, item slackapi.ItemRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, "-"+name+"@"+item.Timestamp)
	return nil
}

func newTestClient(t *testing.T, m *mockAPI) *Client {
	t.Helper()
	c, err := New(Opts{API: m})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func msg(user, ts, text string) slackapi.Message {
	var m slackapi.Message
	m.User = user
	m.Timestamp = ts
	m.Text = text
	return m
}

// --- Tests ---

func TestNew_RequiresToken(t *testing.T) {
	if _, err := New(Opts{}); err == nil {
		t.Fatal("expected error without token or API")
	}
	if _, err := New(Opts{Token: "xoxb-test"}); err != nil {
		t.Fatalf("New with token: %v", err)
	}
}

func TestPostMessage(t *testing.T) {
	m := &mockAPI{}
	c := newTestClient(t, m)

	ref, err := c.PostMessage(context.Background(), "C1", "hello", PostOptions{})
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if ref.Channel != "C1" || ref.TS == "" {
		t.Errorf("ref = %+v", ref)
	}
	if m.posted[0].options != 1 {
		t.Errorf("options = %d, want 1 (text only)", m.posted[0].options)
	}

	if _, err := c.PostMessage(context.Background(), "", "hello", PostOptions{}); err == nil {
		t.Error("expected error for empty channel")
	}
}

func TestPostThreadReply_SetsThreadOptions(t *testing.T) {
	m := &mockAPI{}
	c := newTestClient(t, m)

	off := false
	_, err := c.PostThreadReply(context.Background(), "C1", "1700000000.000001", "reply", PostOptions{
		Broadcast:   true,
		UnfurlLinks: &off,
		UnfurlMedia: &off,
	})
	if err != nil {
		t.Fatalf("PostThreadReply: %v", err)
	}
	// text + ts + broadcast + link unfurl + media unfurl
	if m.posted[0].options != 5 {
		t.Errorf("options = %d, want 5", m.posted[0].options)
	}

	if _, err := c.PostThreadReply(context.Background(), "C1", "", "reply", PostOptions{}); err == nil {
		t.Error("expected error for empty thread ts")
	}
}

func TestPostMessage_ProviderErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  string
		wantRetry time.Duration
	}{
		{"slack error", slackapi.SlackErrorResponse{Err: "channel_not_found"}, "channel_not_found", 0},
		{"rate limited", &slackapi.RateLimitedError{RetryAfter: 30 * time.Second}, CodeRateLimited, 30 * time.Second},
		{"status code", slackapi.StatusCodeError{Code: 503, Status: "503 Service Unavailable"}, "http_503", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, &mockAPI{postErr: tt.err})
			_, err := c.PostMessage(context.Background(), "C1", "hi", PostOptions{})
			var pe *ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("error = %T %v, want *ProviderError", err, err)
			}
			if pe.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", pe.Code, tt.wantCode)
			}
			if pe.RetryAfter != tt.wantRetry {
				t.Errorf("RetryAfter = %v, want %v", pe.RetryAfter, tt.wantRetry)
			}
			if pe.Op != "chat.postMessage" {
				t.Errorf("Op = %q", pe.Op)
			}
		})
	}
}

func TestPostMessage_TransportErrorWrapped(t *testing.T) {
	cause := errors.New("connection reset")
	c := newTestClient(t, &mockAPI{postErr: cause})
	_, err := c.PostMessage(context.Background(), "C1", "hi", PostOptions{})
	if !errors.Is(err, cause) {
		t.Fatalf("error = %v, want wrapped cause", err)
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		t.Error("transport error should not be a ProviderError")
	}
}

func TestThreadHistory_PaginatesAndSkipsMalformed(t *testing.T) {
	m := &mockAPI{
		replies: [][]slackapi.Message{
			{msg("U1", "1700000000.000100", "root"), msg("U2", "not-a-ts", "bad")},
			{msg("", "1700000001.000000", "no author"), msg("U1", "1700000002.000000", "last")},
		},
	}
	c := newTestClient(t, m)

	got, err := c.ThreadHistory(context.Background(), "C1", "1700000000.000100", HistoryOptions{})
	if err != nil {
		t.Fatalf("ThreadHistory: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (malformed skipped)", len(got))
	}
	if got[0].Text != "root" || got[1].Text != "last" {
		t.Errorf("texts = %q, %q", got[0].Text, got[1].Text)
	}
	if got[0].Channel != "C1" {
		t.Errorf("Channel = %q, want C1", got[0].Channel)
	}
	if len(m.repliesIn) != 2 || m.repliesIn[1].Cursor != "cursor-1" {
		t.Errorf("cursor not followed: %d calls", len(m.repliesIn))
	}
}

func TestThreadHistory_Limit(t *testing.T) {
	m := &mockAPI{
		replies: [][]slackapi.Message{
			{msg("U1", "1.000001", "a"), msg("U1", "1.000002", "b")},
			{msg("U1", "1.000003", "c")},
		},
	}
	c := newTestClient(t, m)

	got, err := c.ThreadHistory(context.Background(), "C1", "1.000001", HistoryOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ThreadHistory: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
	if len(m.repliesIn) != 1 {
		t.Errorf("pages fetched = %d, want 1", len(m.repliesIn))
	}
	if m.repliesIn[0].Limit != 2 {
		t.Errorf("page size = %d, want 2", m.repliesIn[0].Limit)
	}
}

func TestThreadHistory_TailKeepsNewest(t *testing.T) {
	m := &mockAPI{
		replies: [][]slackapi.Message{
			{msg("U1", "1.000001", "a"), msg("U1", "1.000002", "b"), msg("U1", "1.000003", "c")},
			{msg("U1", "1.000004", "d"), msg("U1", "1.000005", "e")},
		},
	}
	c := newTestClient(t, m)

	got, err := c.ThreadHistory(context.Background(), "C1", "1.000001", HistoryOptions{Limit: 2, Tail: true})
	if err != nil {
		t.Fatalf("ThreadHistory: %v", err)
	}
	if len(got) != 2 || got[0].Text != "d" || got[1].Text != "e" {
		t.Errorf("got %v, want [d e]", got)
	}
	if len(m.repliesIn) != 2 {
		t.Errorf("pages fetched = %d, want 2", len(m.repliesIn))
	}
	if m.repliesIn[0].Limit != historyPageSize {
		t.Errorf("page size = %d, want %d", m.repliesIn[0].Limit, historyPageSize)
	}
}

func TestReactions(t *testing.T) {
	m := &mockAPI{}
	c := newTestClient(t, m)
	ref := MessageRef{Channel: "C1", TS: "1.000001"}

	if err := c.AddReaction(context.Background(), ref, ":eyes:"); err != nil {
		t.Fatalf("AddReaction: %v", err)
	}
	if err := c.RemoveReaction(context.Background(), ref, "eyes"); err != nil {
		t.Fatalf("RemoveReaction: %v", err)
	}
	want := []string{"+eyes@1.000001", "-eyes@1.000001"}
	for i, w := range want {
		if m.reactions[i] != w {
			t.Errorf("reactions[%d] = %q, want %q", i, m.reactions[i], w)
		}
	}
}

func TestUploadFile(t *testing.T) {
	m := &mockAPI{}
	c := newTestClient(t, m)

	f, err := c.UploadFile(context.Background(), Upload{
		Content:  strings.NewReader("report"),
		Size:     6,
		Filename: "report.txt",
		Channel:  "C1",
		ThreadTS: "1.000001",
	})
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if f.ID != "F123" || f.Title != "report.txt" {
		t.Errorf("file = %+v, want title defaulted to filename", f)
	}
	if m.uploads[0].ThreadTimestamp != "1.000001" {
		t.Errorf("ThreadTimestamp = %q", m.uploads[0].ThreadTimestamp)
	}

	if _, err := c.UploadFile(context.Background(), Upload{Filename: "x"}); err == nil {
		t.Error("expected error without content")
	}
}

func TestUserAndChannelInfo(t *testing.T) {
	c := newTestClient(t, &mockAPI{})

	u, err := c.UserInfo(context.Background(), "U1")
	if err != nil {
		t.Fatalf("UserInfo: %v", err)
	}
	if u.RealName != "Ada Lovelace" || u.DisplayName != "ada" {
		t.Errorf("user = %+v", u)
	}

	_, err = c.UserInfo(context.Background(), "UMISSING")
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Code != "user_not_found" {
		t.Errorf("error = %v, want user_not_found", err)
	}

	ch, err := c.ChannelInfo(context.Background(), "C1")
	if err != nil {
		t.Fatalf("ChannelInfo: %v", err)
	}
	if ch.Name != "general" || !ch.IsPrivate || ch.Topic != "launch" {
		t.Errorf("channel = %+v", ch)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"1700000000.000100", time.Unix(1700000000, 100*1000).UTC(), false},
		{"1700000000.5", time.Unix(1700000000, 500000*1000).UTC(), false},
		{"1700000000", time.Unix(1700000000, 0).UTC(), false},
		{"1700000000.1234567", time.Unix(1700000000, 123456*1000).UTC(), false},
		{"", time.Time{}, true},
		{"abc.000001", time.Time{}, true},
		{"1700000000.x", time.Time{}, true},
		{"-1.000000", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseTimestamp(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimestamp(%q): %v", tt.in, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestClient_RealAPIOverHTTP(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/chat.postMessage":
			fmt.Fprint(w, `{"ok":true,"channel":"C9","ts":"1700000000.000200"}`)
		case "/reactions.add":
			fmt.Fprint(w, `{"ok":false,"error":"already_reacted"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := &Factory{HTTPClient: srv.Client(), APIURL: srv.URL + "/"}
	c, err := f.ForToken("xoxb-test")
	if err != nil {
		t.Fatalf("ForToken: %v", err)
	}

	ref, err := c.PostMessage(context.Background(), "C9", "hello", PostOptions{})
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if ref.TS != "1700000000.000200" {
		t.Errorf("TS = %q", ref.TS)
	}
	if len(paths) != 1 || paths[0] != "/chat.postMessage" {
		t.Errorf("paths = %v", paths)
	}

	err = c.AddReaction(context.Background(), ref, "eyes")
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Code != "already_reacted" {
		t.Errorf("error = %v, want already_reacted", err)
	}
}
