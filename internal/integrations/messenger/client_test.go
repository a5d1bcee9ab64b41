package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"finbot/internal/domain"
)

// fakeGetter is a minimal paramstore.Getter stub for use within this package.
type fakeGetter struct {
	val   string
	err   error
	calls int
	names []string
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.calls++
	f.names = append(f.names, name)
	return f.val, f.err
}

type captured struct {
	method string
	path   string
	query  map[string][]string
	body   map[string]any
}

func newServer(t *testing.T, status int, respBody string) (*httptest.Server, *[]captured) {
	t.Helper()
	var reqs []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := captured{method: r.Method, path: r.URL.Path, query: r.URL.Query()}
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, &c.body))
		}
		reqs = append(reqs, c)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func newTestClient(t *testing.T, srv *httptest.Server, g *fakeGetter) *Client {
	t.Helper()
	c, err := NewClient(g, "/finbot/", WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, "/finbot")
	require.ErrorContains(t, err, "nil")
	_, err = NewClient(&fakeGetter{}, " / ")
	require.ErrorContains(t, err, "prefix")
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(&fakeGetter{}, "/finbot", WithBaseURL(""))
	require.NoError(t, err)
	require.Equal(t, defaultBaseURL, c.baseURL)
	require.NotNil(t, c.httpClient)
}

func TestSendText(t *testing.T) {
	srv, reqs := newServer(t, http.StatusOK, `{"recipient_id":"psid","message_id":"m"}`)
	g := &fakeGetter{val: `{"token":"page-token"}`}
	c := newTestClient(t, srv, g)

	require.NoError(t, c.Send(context.Background(), domain.SendText("psid", "Hello")))

	require.Len(t, *reqs, 1)
	r := (*reqs)[0]
	require.Equal(t, http.MethodPost, r.method)
	require.Equal(t, "/me/messages", r.path)
	require.Equal(t, "page-token", r.query["access_token"][0])
	require.Equal(t, "psid", r.body["recipient"].(map[string]any)["id"])
	require.Equal(t, "Hello", r.body["message"].(map[string]any)["text"])
	require.Equal(t, []string{"/finbot/page-access-token"}, g.names)
}

func TestSendQuickReplies_CapsAndTruncates(t *testing.T) {
	srv, reqs := newServer(t, http.StatusOK, `{}`)
	c := newTestClient(t, srv, &fakeGetter{val: "tok"})

	opts := make([]domain.Option, 15)
	for i := range opts {
		opts[i] = domain.Option{Title: "Supermercado do bairro", Payload: "p"}
	}
	require.NoError(t, c.Send(context.Background(), domain.SendQuickReplies("psid", "Pick one", opts)))

	msg := (*reqs)[0].body["message"].(map[string]any)
	replies := msg["quick_replies"].([]any)
	require.Len(t, replies, maxQuickReplies)
	first := replies[0].(map[string]any)
	require.Equal(t, "text", first["content_type"])
	require.Equal(t, "Supermercado do bair", first["title"])
	require.Equal(t, "p", first["payload"])
}

func TestSendButtons(t *testing.T) {
	srv, reqs := newServer(t, http.StatusOK, `{}`)
	c := newTestClient(t, srv, &fakeGetter{val: "tok"})

	opts := []domain.Option{{Title: "Yes, correct", Payload: "finalize"}, {Title: "No, redo", Payload: "retry"}}
	require.NoError(t, c.Send(context.Background(), domain.SendButtons("psid", "Is this right?", opts)))

	att := (*reqs)[0].body["message"].(map[string]any)["attachment"].(map[string]any)
	require.Equal(t, "template", att["type"])
	payload := att["payload"].(map[string]any)
	require.Equal(t, "button", payload["template_type"])
	require.Equal(t, "Is this right?", payload["text"])
	buttons := payload["buttons"].([]any)
	require.Len(t, buttons, 2)
	require.Equal(t, "postback", buttons[0].(map[string]any)["type"])
	require.Equal(t, "retry", buttons[1].(map[string]any)["payload"])
}

func TestSendTyping(t *testing.T) {
	srv, reqs := newServer(t, http.StatusOK, `{}`)
	c := newTestClient(t, srv, &fakeGetter{val: "tok"})

	require.NoError(t, c.SendTyping(context.Background(), "psid"))
	require.Equal(t, "typing_on", (*reqs)[0].body["sender_action"])
	require.Nil(t, (*reqs)[0].body["message"])
}

func TestSend_UnknownKind(t *testing.T) {
	srv, reqs := newServer(t, http.StatusOK, `{}`)
	c := newTestClient(t, srv, &fakeGetter{val: "tok"})

	err := c.Send(context.Background(), domain.Action{Kind: "carousel", Recipient: "psid"})
	require.ErrorContains(t, err, "unknown action kind")
	require.Empty(t, *reqs)
}

func TestSend_EmptyRecipient(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, `{}`)
	c := newTestClient(t, srv, &fakeGetter{val: "tok"})
	require.ErrorContains(t, c.SendText(context.Background(), " ", "hi"), "recipient")
}

func TestSend_HTTPStatusError(t *testing.T) {
	srv, _ := newServer(t, http.StatusBadRequest, `{"error":{"message":"Invalid OAuth access token."}}`)
	c := newTestClient(t, srv, &fakeGetter{val: "secret-token"})

	err := c.SendText(context.Background(), "psid", "hi")
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadRequest, statusErr.HTTPStatusCode())
	require.Contains(t, statusErr.Body, "Invalid OAuth")
	require.NotContains(t, err.Error(), "secret-token")
}

func TestPageToken_FetchedOnce(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, `{}`)
	g := &fakeGetter{val: `{"token":"tok"}`}
	c := newTestClient(t, srv, g)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.SendText(context.Background(), "psid", "hi"))
	}
	require.Equal(t, 1, g.calls)
}

func TestPageToken_Errors(t *testing.T) {
	srv, reqs := newServer(t, http.StatusOK, `{}`)

	c := newTestClient(t, srv, &fakeGetter{err: errors.New("ssm unavailable")})
	require.ErrorContains(t, c.SendText(context.Background(), "psid", "hi"), "ssm unavailable")

	c = newTestClient(t, srv, &fakeGetter{val: `{"token":""}`})
	require.ErrorContains(t, c.SendText(context.Background(), "psid", "hi"), "empty")
	require.Empty(t, *reqs)
}

func TestPageToken_RetriesAfterFailedFetch(t *testing.T) {
	srv, reqs := newServer(t, http.StatusOK, `{}`)
	g := &fakeGetter{err: errors.New("throttled")}
	c := newTestClient(t, srv, g)

	require.ErrorContains(t, c.SendText(context.Background(), "psid", "hi"), "throttled")
	require.Empty(t, *reqs)

	g.err = nil
	g.val = `{"token":"tok"}`
	require.NoError(t, c.SendText(context.Background(), "psid", "hi"))
	require.NoError(t, c.SendText(context.Background(), "psid", "again"))
	require.Equal(t, 2, g.calls)
	require.Len(t, *reqs, 2)
	require.Equal(t, "tok", (*reqs)[1].query["access_token"][0])
}

func TestPageToken_RetriesAfterEmptyToken(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, `{}`)
	g := &fakeGetter{val: `{"token":""}`}
	c := newTestClient(t, srv, g)

	require.ErrorContains(t, c.SendText(context.Background(), "psid", "hi"), "empty")
	g.val = "tok"
	require.NoError(t, c.SendText(context.Background(), "psid", "hi"))
	require.Equal(t, 2, g.calls)
}

func TestGetProfile(t *testing.T) {
	srv, reqs := newServer(t, http.StatusOK, `{"first_name":"Ana","last_name":"Silva","locale":"pt_BR","timezone":-3,"id":"psid"}`)
	c := newTestClient(t, srv, &fakeGetter{val: "tok"})

	u, err := c.GetProfile(context.Background(), "psid")
	require.NoError(t, err)
	require.Equal(t, domain.User{ID: "psid", FirstName: "Ana", LastName: "Silva", Locale: "pt_BR", Timezone: -3}, u)

	r := (*reqs)[0]
	require.Equal(t, http.MethodGet, r.method)
	require.Equal(t, "/psid", r.path)
	require.Equal(t, profileFields, r.query["fields"][0])
	require.Equal(t, "tok", r.query["access_token"][0])
}

func TestGetProfile_Errors(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, `not-json`)
	c := newTestClient(t, srv, &fakeGetter{val: "tok"})

	_, err := c.GetProfile(context.Background(), "psid")
	require.ErrorContains(t, err, "decode profile")

	_, err = c.GetProfile(context.Background(), "")
	require.ErrorContains(t, err, "empty")
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 20))
	require.Equal(t, "Transporte público é", truncate("Transporte público é caro", 20))
	require.Equal(t, 20, len([]rune(truncate(strings.Repeat("ç", 30), 20))))
}
