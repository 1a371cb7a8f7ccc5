package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agdt/internal/apiclient"
	"agdt/internal/errs"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := New(context.Background(), srv.URL, "acme", "api", "tok", apiclient.Options{
		Retry: apiclient.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})
	require.NoError(t, err)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestGetPullRequest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/api/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"number":7,"state":"open","title":"Fix","head":{"ref":"fix"},"base":{"ref":"main"},"user":{"login":"dev"}}`)
	})
	c := newTestClient(t, mux)
	pr, err := c.GetPullRequest(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, PullRequest{Number: 7, State: "open", Title: "Fix", Head: "fix", Base: "main", Author: "dev"}, pr)
}

func TestGetPullRequestMissingState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/api/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"number":7}`)
	})
	c := newTestClient(t, mux)
	_, err := c.GetPullRequest(context.Background(), 7)
	var mal *errs.MalformedResponseError
	require.True(t, errors.As(err, &mal))
	assert.Equal(t, "state", mal.Field)
}

func TestRetriesServerErrorsButNotNotFound(t *testing.T) {
	var flaky, missing atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/api/issues/1", func(w http.ResponseWriter, r *http.Request) {
		if flaky.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"number":1,"title":"Spec me","body":"details","labels":[{"name":"spec"}]}`)
	})
	mux.HandleFunc("/api/v3/repos/acme/api/issues/2", func(w http.ResponseWriter, r *http.Request) {
		missing.Add(1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})
	c := newTestClient(t, mux)

	issue, err := c.GetIssue(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"spec"}, issue.Labels)
	assert.EqualValues(t, 3, flaky.Load())

	_, err = c.GetIssue(context.Background(), 2)
	var ext *errs.ExternalServiceError
	require.True(t, errors.As(err, &ext))
	assert.Equal(t, 404, ext.StatusCode)
	assert.EqualValues(t, 1, missing.Load())
}

func TestWritesRetryOnlyOnRateLimit(t *testing.T) {
	var posts, limited atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/api/issues/5/comments", func(w http.ResponseWriter, r *http.Request) {
		if posts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":501,"body":"hello"}`)
	})
	mux.HandleFunc("/api/v3/repos/acme/api/issues/6/comments", func(w http.ResponseWriter, r *http.Request) {
		if limited.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"message":"slow down"}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":601,"body":"hello"}`)
	})
	c := newTestClient(t, mux)

	_, err := c.AddIssueComment(context.Background(), 5, "hello")
	var ext *errs.ExternalServiceError
	require.True(t, errors.As(err, &ext))
	assert.Equal(t, http.StatusBadGateway, ext.StatusCode)
	assert.EqualValues(t, 1, posts.Load())

	cm, err := c.AddIssueComment(context.Background(), 6, "hello")
	require.NoError(t, err)
	assert.EqualValues(t, 601, cm.ID)
	assert.EqualValues(t, 2, limited.Load())
}

func TestCreatePullRequestAndComments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/api/pulls", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "feature", body["head"])
		assert.Equal(t, true, body["draft"])
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"number":8,"state":"open","draft":true}`)
	})
	mux.HandleFunc("/api/v3/repos/acme/api/issues/8/comments", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":100,"body":"hello"}`)
	})
	mux.HandleFunc("/api/v3/repos/acme/api/pulls/8/comments", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 55, body["in_reply_to"])
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":101,"body":"fixed"}`)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	pr, err := c.CreatePullRequest(ctx, NewPullRequest{Head: "feature", Base: "main", Title: "F", Draft: true})
	require.NoError(t, err)
	assert.True(t, pr.Draft)

	cm, err := c.AddIssueComment(ctx, 8, "hello")
	require.NoError(t, err)
	assert.EqualValues(t, 100, cm.ID)

	reply, err := c.ReplyToReviewComment(ctx, 8, 55, "fixed")
	require.NoError(t, err)
	assert.EqualValues(t, 101, reply.ID)
}

func TestListPullRequestFilesPaginates(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/api/pulls/9/files", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"filename":"b.go","status":"added"}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/api/v3/repos/acme/api/pulls/9/files?page=2>; rel="next"`, srvURL))
		fmt.Fprint(w, `[{"filename":"a.go","status":"modified","additions":3}]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srvURL = srv.URL
	c, err := New(context.Background(), srv.URL, "acme", "api", "tok", apiclient.Options{})
	require.NoError(t, err)

	files, err := c.ListPullRequestFiles(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.go", files[0].Filename)
	assert.Equal(t, "b.go", files[1].Filename)
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(context.Background(), "", "acme", "api", "", apiclient.Options{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
