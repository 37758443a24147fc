package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(opts Options) *Client {
	return New(opts, zap.NewNop())
}

func TestFetchReturnsBody(t *testing.T) {
	payload := []byte("not really a jpeg")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	res, err := newTestClient(Options{}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, payload, res.Body)
	require.Equal(t, int64(len(payload)), res.ContentLength)
}

func TestFetchSendsConfiguredHeaders(t *testing.T) {
	var gotUA, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := newTestClient(Options{
		UserAgent: "stripview-test/1.0",
		Referer:   "https://comics.example.com/",
	})

	_, err := client.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "stripview-test/1.0", gotUA)
	require.Equal(t, "https://comics.example.com/", gotReferer)
}

func TestFetchNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(Options{}).Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrUpstream)
}

func TestFetchConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	_, err := newTestClient(Options{}).Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrUpstream)
}

func TestFetchHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte("late"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newTestClient(Options{}).Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, ErrUpstream)
}
