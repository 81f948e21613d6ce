package social

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coco/internal/tools"
)

func TestUnavailableWithoutBearer(t *testing.T) {
	t.Setenv(envBearer, "")
	assert.False(t, Available())

	r := tools.NewRegistry()
	require.NoError(t, RegisterAll(r, nil))
	res := r.Dispatch(context.Background(), "post_tweet", map[string]any{"text": "hi"})
	assert.Equal(t, tools.KindUnknownTool, res.ErrorKind)
}

func TestPostTweet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello world", body["text"])
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"id": "123"}})
	}))
	defer srv.Close()

	t.Setenv(envBearer, "tok")
	t.Setenv(envEndpoint, srv.URL)

	r := tools.NewRegistry()
	require.NoError(t, RegisterAll(r, srv.Client()))

	res := r.Dispatch(context.Background(), "post_tweet", map[string]any{"text": "hello world"})
	require.True(t, res.OK, res.ErrorMessage)
	assert.Contains(t, res.Value, "123")
}

func TestPostTweetReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		reply, ok := body["reply"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "42", reply["in_reply_to_tweet_id"])
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"id": "43"}})
	}))
	defer srv.Close()

	t.Setenv(envBearer, "tok")
	t.Setenv(envEndpoint, srv.URL)

	r := tools.NewRegistry()
	require.NoError(t, RegisterAll(r, srv.Client()))

	res := r.Dispatch(context.Background(), "post_tweet", map[string]any{"text": "replying", "reply_to_id": "42"})
	assert.True(t, res.OK, res.ErrorMessage)
}

func TestPostTweetLengthLimit(t *testing.T) {
	t.Setenv(envBearer, "tok")

	r := tools.NewRegistry()
	require.NoError(t, RegisterAll(r, nil))

	res := r.Dispatch(context.Background(), "post_tweet", map[string]any{"text": strings.Repeat("x", 281)})
	assert.Equal(t, tools.KindInvalidInput, res.ErrorKind)
}

func TestPostTweetRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	t.Setenv(envBearer, "tok")
	t.Setenv(envEndpoint, srv.URL)

	r := tools.NewRegistry()
	require.NoError(t, RegisterAll(r, srv.Client()))

	res := r.Dispatch(context.Background(), "post_tweet", map[string]any{"text": "x"})
	assert.Equal(t, tools.KindRateLimited, res.ErrorKind)
}

func TestPostTweetRequiresApproval(t *testing.T) {
	assert.True(t, PostTweetTool(nil).RequiresApproval)
}
