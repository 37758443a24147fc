package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stripview/internal/config"
	"stripview/internal/fetcher"
	"stripview/internal/image_slicer"
)

const sourceURL = "https://img.example/strip.jpg"

type stubSource struct {
	data []byte
	err  error
	gets int
}

func (s *stubSource) Get(ctx context.Context, url string) ([]byte, error) {
	s.gets++
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

type stubCodec struct {
	width, height int
	dimErr        error
	encoded       []byte
	extractErr    error
	extracts      [][3]int // width, y, bandHeight per call
}

func (c *stubCodec) Dimensions(buf []byte) (int, int, error) {
	if c.dimErr != nil {
		return 0, 0, c.dimErr
	}
	return c.width, c.height, nil
}

func (c *stubCodec) Extract(buf []byte, width, y, bandHeight int) ([]byte, error) {
	c.extracts = append(c.extracts, [3]int{width, y, bandHeight})
	if c.extractErr != nil {
		return nil, c.extractErr
	}
	return c.encoded, nil
}

func newTestHandlers(src ImageSource, codec Codec) *Handlers {
	cfg := &config.Config{
		SliceHeight:   1500,
		PublicBaseURL: "http://localhost:8080",
	}
	return New(cfg, zap.NewNop(), src, codec, nil)
}

func doSlice(h *Handlers, method, query string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/slice"+query, nil)
	rec := httptest.NewRecorder()
	h.HandleSlice(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload["error"]
}

func TestHandleSliceMissingURL(t *testing.T) {
	h := newTestHandlers(&stubSource{}, &stubCodec{})

	rec := doSlice(h, http.MethodGet, "")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Missing url parameter", errorBody(t, rec))
}

func TestHandleSliceRejectsBadInput(t *testing.T) {
	cases := []struct {
		name  string
		query string
	}{
		{"relative url", "?url=not-a-url"},
		{"unsupported scheme", "?url=" + url.QueryEscape("ftp://img.example/strip.jpg")},
		{"non-numeric index", "?url=" + url.QueryEscape(sourceURL) + "&index=abc"},
		{"negative index", "?url=" + url.QueryEscape(sourceURL) + "&index=-1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := &stubSource{data: []byte("raw")}
			h := newTestHandlers(src, &stubCodec{width: 800, height: 3200})

			rec := doSlice(h, http.MethodGet, tc.query)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, 0, src.gets, "rejected input must not trigger a fetch")
		})
	}
}

func TestHandleSliceManifest(t *testing.T) {
	src := &stubSource{data: []byte("raw")}
	codec := &stubCodec{width: 800, height: 3200}
	h := newTestHandlers(src, codec)

	rec := doSlice(h, http.MethodGet, "?url="+url.QueryEscape(sourceURL))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got manifest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 800, got.OriginalWidth)
	require.Equal(t, 3200, got.OriginalHeight)
	require.Equal(t, 1500, got.SliceHeight)
	require.Equal(t, 3, got.NumSlices)
	require.Len(t, got.Slices, 3)

	require.Equal(t, manifestSlice{
		Index:  0,
		URL:    "http://localhost:8080/slice?url=https%3A%2F%2Fimg.example%2Fstrip.jpg&index=0",
		Y:      0,
		Height: 1500,
		Width:  800,
	}, got.Slices[0])
	require.Equal(t, manifestSlice{
		Index:  2,
		URL:    "http://localhost:8080/slice?url=https%3A%2F%2Fimg.example%2Fstrip.jpg&index=2",
		Y:      3000,
		Height: 200,
		Width:  800,
	}, got.Slices[2])
}

func TestHandleSliceManifestSingleBand(t *testing.T) {
	h := newTestHandlers(&stubSource{data: []byte("raw")}, &stubCodec{width: 640, height: 1500})

	rec := doSlice(h, http.MethodGet, "?url="+url.QueryEscape(sourceURL))

	require.Equal(t, http.StatusOK, rec.Code)

	var got manifest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 1, got.NumSlices)
	require.Equal(t, 1500, got.Slices[0].Height)
}

func TestHandleSliceBand(t *testing.T) {
	codec := &stubCodec{width: 800, height: 3200, encoded: []byte("jpeg-band")}
	h := newTestHandlers(&stubSource{data: []byte("raw")}, codec)

	rec := doSlice(h, http.MethodGet, "?url="+url.QueryEscape(sourceURL)+"&index=1")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	require.Equal(t, "public, max-age=31536000", rec.Header().Get("Cache-Control"))
	require.NotEmpty(t, rec.Header().Get("ETag"))
	require.Equal(t, []byte("jpeg-band"), rec.Body.Bytes())

	require.Equal(t, [][3]int{{800, 1500, 1500}}, codec.extracts)
}

func TestHandleSliceLastShortBand(t *testing.T) {
	codec := &stubCodec{width: 800, height: 3200, encoded: []byte("jpeg-band")}
	h := newTestHandlers(&stubSource{data: []byte("raw")}, codec)

	rec := doSlice(h, http.MethodGet, "?url="+url.QueryEscape(sourceURL)+"&index=2")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, [][3]int{{800, 3000, 200}}, codec.extracts)
}

func TestHandleSliceOutOfBounds(t *testing.T) {
	cases := []struct {
		name   string
		height int
		index  string
	}{
		{"beyond tall image", 3200, "3"},
		{"second band of exact fit", 1500, "1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			codec := &stubCodec{width: 800, height: tc.height}
			h := newTestHandlers(&stubSource{data: []byte("raw")}, codec)

			rec := doSlice(h, http.MethodGet, "?url="+url.QueryEscape(sourceURL)+"&index="+tc.index)

			require.Equal(t, http.StatusNotFound, rec.Code)
			require.Equal(t, "Slice index out of bounds", errorBody(t, rec))
			require.Empty(t, codec.extracts, "out-of-bounds request must not reach the codec")
		})
	}
}

func TestHandleSliceHead(t *testing.T) {
	codec := &stubCodec{width: 800, height: 3200, encoded: []byte("jpeg-band")}
	h := newTestHandlers(&stubSource{data: []byte("raw")}, codec)

	rec := doSlice(h, http.MethodHead, "?url="+url.QueryEscape(sourceURL)+"&index=0")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "9", rec.Header().Get("Content-Length"))
	require.NotEmpty(t, rec.Header().Get("ETag"))
	require.Zero(t, rec.Body.Len())
}

func TestHandleSliceFetchFailure(t *testing.T) {
	src := &stubSource{err: fmt.Errorf("%w: status 502 from %s", fetcher.ErrUpstream, sourceURL)}
	h := newTestHandlers(src, &stubCodec{})

	rec := doSlice(h, http.MethodGet, "?url="+url.QueryEscape(sourceURL))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, errorBody(t, rec), "status 502")
}

func TestHandleSliceExtractionFailure(t *testing.T) {
	codec := &stubCodec{
		width:      800,
		height:     3200,
		extractErr: fmt.Errorf("%w: jpegsave", image_slicer.ErrExtract),
	}
	h := newTestHandlers(&stubSource{data: []byte("raw")}, codec)

	rec := doSlice(h, http.MethodGet, "?url="+url.QueryEscape(sourceURL)+"&index=0")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, errorBody(t, rec), "slice extraction failed")
}

func TestHandleSliceMethodNotAllowed(t *testing.T) {
	h := newTestHandlers(&stubSource{}, &stubCodec{})

	rec := doSlice(h, http.MethodPost, "?url="+url.QueryEscape(sourceURL))

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleHealthz(t *testing.T) {
	h := newTestHandlers(&stubSource{}, &stubCodec{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.HandleHealthz(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestCORSMiddlewareConfiguredOrigin(t *testing.T) {
	h := newTestHandlers(&stubSource{}, &stubCodec{})
	h.config.AllowedOrigin = "https://reader.example"

	handler := h.CORSMiddleware(http.HandlerFunc(h.HandleHealthz))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://reader.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, "https://reader.example", rec.Header().Get("Access-Control-Allow-Origin"))

	preflight := httptest.NewRequest(http.MethodOptions, "/slice", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, preflight)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestLoggingMiddlewarePreservesResponse(t *testing.T) {
	h := newTestHandlers(&stubSource{}, &stubCodec{})

	handler := h.RequestLoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/slice", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Equal(t, "short and stout", rec.Body.String())
}
