package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/ictchat/internal/chaterr"
	"github.com/codefionn/ictchat/internal/models"
	"github.com/codefionn/ictchat/internal/securemem"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, securemem.NewToken("tok"), Options{Timeout: 2 * time.Second, RequestsPerSecond: 1000})
}

func TestHistoryEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/messages/3", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[{"id":1,"conversation_id":3,"sender_id":7,"message":"hi","message_type":"text","timestamp":"2026-10-17T09:00:00Z"}]`))
	})
	mux.HandleFunc("/groupMessages/4", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":2,"group_id":4,"sender_id":7,"message":"yo"}]`))
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	msgs, err := c.History(ctx, models.Direct("3"))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.ID("7"), msgs[0].SenderID)
	assert.Equal(t, "hi", msgs[0].Text)

	msgs, err = c.History(ctx, models.Group("4"))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.ID("4"), msgs[0].GroupID)
}

func TestListProtocolFailureIsEmpty(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"object", `{"error":"boom"}`},
		{"empty", ``},
		{"broken element", `[{"id":{"nested":true}}]`},
		{"null", `null`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			msgs, err := c.History(context.Background(), models.Direct("1"))
			require.NoError(t, err)
			assert.NotNil(t, msgs)
			assert.Empty(t, msgs)
		})
	}
}

func TestTransportFailure(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.Conversations(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, chaterr.Transport)

	var ce *chaterr.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusInternalServerError, ce.Status)
}

func TestConversationsAreTagged(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":10,"other_username":"ravi","other_user_id":8,"last_message":"ok","last_message_type":"text"}]`))
	}))

	convos, err := c.Conversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convos, 1)
	assert.True(t, convos[0].HasConversation)
	assert.Equal(t, "ravi", convos[0].OtherUsername)
}

func TestSearchEscapesTerm(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users", r.URL.Path)
		assert.Equal(t, "a&b c", r.URL.Query().Get("search"))
		_, _ = w.Write([]byte(`[{"id":1,"username":"a&b c"}]`))
	}))

	users, err := c.SearchUsers(context.Background(), "a&b c")
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestCreateConversation(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.JSONEq(t, `1`, string(req["user1_id"]))
		assert.JSONEq(t, `2`, string(req["user2_id"]))
		_, _ = w.Write([]byte(`{"success":true,"conversation":{"id":99,"other_username":"ravi","other_user_id":2}}`))
	}))

	convo, err := c.CreateConversation(context.Background(), "1", "2")
	require.NoError(t, err)
	assert.Equal(t, models.ID("99"), convo.ID)
	assert.True(t, convo.HasConversation)
}

func TestCreateConversationUnsuccessful(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"exists"}`))
	}))

	_, err := c.CreateConversation(context.Background(), "1", "2")
	assert.ErrorIs(t, err, chaterr.Protocol)
	assert.Contains(t, err.Error(), "exists")
}

func TestDeleteMessage(t *testing.T) {
	var gotMethod, gotPath string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, c.DeleteMessage(context.Background(), "55"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/delete_message/55", gotPath)
}

func TestUpload(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "asha", r.FormValue("username"))

		files := r.MultipartForm.File["file"]
		require.Len(t, files, 2)
		assert.Equal(t, "a.png", files[0].Filename)
		assert.Equal(t, "image/png", files[0].Header.Get("Content-Type"))

		f, err := files[1].Open()
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "pdfdata", string(data))

		_, _ = w.Write([]byte(`{"urls":["https://cdn/a.png","https://cdn/b.pdf"]}`))
	}))

	urls, err := c.Upload(context.Background(), "asha", []File{
		{Name: "a.png", ContentType: "image/png", Data: []byte("png")},
		{Name: "b.pdf", ContentType: "application/pdf", Data: []byte("pdfdata")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn/a.png", "https://cdn/b.pdf"}, urls)
}

func TestUploadURLCountMismatch(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"urls":[]}`))
	}))

	_, err := c.Upload(context.Background(), "asha", []File{{Name: "a.txt", Data: []byte("x")}})
	assert.ErrorIs(t, err, chaterr.Protocol)
}

func TestFileIsImage(t *testing.T) {
	assert.True(t, File{ContentType: "IMAGE/JPEG"}.IsImage())
	assert.False(t, File{ContentType: "application/pdf"}.IsImage())
}

func TestCancelledContext(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.AllUsers(ctx)
	assert.ErrorIs(t, err, chaterr.Transport)
}
