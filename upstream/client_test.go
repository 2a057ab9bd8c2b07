package upstream

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/simplerp_gateway/appctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string, retries int) *Client {
	c := NewClient(url, 2*time.Second, retries)
	c.backoffBase = time.Millisecond
	return c
}

func TestClient_GetAttachesTokenAndQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/handloans", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "Bearer upstream-token", r.Header.Get("Authorization"))
		assert.Equal(t, "cid-1", r.Header.Get("x-correlation-id"))
		w.Header().Set("Content-Type", "application/hal+json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	ctx := WithBearerToken(context.Background(), "upstream-token")
	ctx = appctx.Set(ctx, appctx.ContextKeyCorrelationId, "cid-1")

	resp, err := newTestClient(server.URL+"/api", 0).GetRaw(ctx, "/handloans", url.Values{"page": {"2"}})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(resp.Body))
	assert.Equal(t, "application/hal+json", resp.ContentType)
}

func TestClient_GetRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer server.Close()

	body, err := newTestClient(server.URL, 2).Get(context.Background(), "/roles", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"content":[]}`, string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"hand loan 4 not found"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 3).Get(context.Background(), "/handloans/4", nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "hand loan 4 not found", apiErr.Message)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_MutationsAreNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 3).PostJSON(context.Background(), "/roles", map[string]string{"name": "x"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_CancelledContextStopsRequest(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(server.URL, 3).Get(ctx, "/slow", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_PostMultipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		assert.Equal(t, "multipart/form-data", mediaType)

		reader := multipart.NewReader(r.Body, params["boundary"])
		first, err := reader.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "handLoan", first.FormName())
		assert.Equal(t, "application/json", first.Header.Get("Content-Type"))
		data, _ := io.ReadAll(first)
		assert.JSONEq(t, `{"partyName":"Ravi"}`, string(data))

		second, err := reader.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "file", second.FormName())
		assert.Equal(t, "receipt.pdf", second.FileName())

		_, err = reader.NextPart()
		assert.ErrorIs(t, err, io.EOF)
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer server.Close()

	body, err := newTestClient(server.URL, 0).PostMultipart(context.Background(), "/handloans", []Part{
		{FieldName: "handLoan", ContentType: "application/json", Data: []byte(`{"partyName":"Ravi"}`)},
		{FieldName: "file", FileName: "receipt.pdf", ContentType: "application/pdf", Data: []byte("%PDF")},
	})
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `"id":1`))
}
