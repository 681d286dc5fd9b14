package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/alburaq/catalogsync/internal/catalog"
)

func newTestClient(server *httptest.Server) *HTTPClient {
	client := NewHTTPClient(HTTPClientOptions{
		BaseURL:    server.URL,
		Token:      "token",
		HTTPClient: server.Client(),
		Timeout:    5 * time.Second,
	})
	client.baseDelay = time.Millisecond
	client.maxDelay = 5 * time.Millisecond
	return client
}

func TestFetchParsesDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/products" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Fatalf("expected bearer token, got %q", got)
		}
		w.Header().Set("ETag", `"abc"`)
		_, _ = w.Write([]byte(`{"products":[{"id":"1","name":"Belo Color","category":"Cosmetics & Personal Care","image":"/a.png"}],"lastUpdated":"2024-03-01T10:00:00.000Z","version":"1.0"}`))
	}))
	defer server.Close()

	doc, ok := newTestClient(server).Fetch(context.Background())
	if !ok {
		t.Fatalf("expected fetch to succeed")
	}
	if len(doc.Products) != 1 || doc.Products[0].ID != "1" {
		t.Fatalf("unexpected products %+v", doc.Products)
	}
	if len(doc.Products[0].Images) != 1 || doc.Products[0].Images[0] != "/a.png" {
		t.Fatalf("expected images defaulted from image, got %v", doc.Products[0].Images)
	}
	if doc.LastUpdated == nil || !doc.LastUpdated.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected lastUpdated %v", doc.LastUpdated)
	}
	if doc.Version != "1.0" || doc.ETag != "abc" {
		t.Fatalf("expected version 1.0 and etag abc, got %q %q", doc.Version, doc.ETag)
	}
}

func TestFetchReportsAbsentOnFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"not found": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		},
		"bad json": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"products":`))
		},
		"missing products": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"lastUpdated":null}`))
		},
		"server error": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	}
	for name, handler := range cases {
		server := httptest.NewServer(handler)
		if _, ok := newTestClient(server).Fetch(context.Background()); ok {
			t.Fatalf("%s: expected fetch to report absent", name)
		}
		server.Close()
	}
}

func TestFetchDocumentKeepsReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()
	if _, err := newTestClient(server).FetchDocument(context.Background()); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestHTTPClientRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"unavailable","message":"retry"}`))
			return
		}
		_, _ = w.Write([]byte(`{"products":[]}`))
	}))
	defer server.Close()

	doc, ok := newTestClient(server).Fetch(context.Background())
	if !ok {
		t.Fatalf("expected retry to recover from transient 503")
	}
	if doc.Products == nil || len(doc.Products) != 0 {
		t.Fatalf("expected empty non-nil products, got %#v", doc.Products)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected exactly 2 calls (1 retry), got %d", got)
	}
}

func TestPushSendsProductsAndRequiresSuccessFlag(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Header().Set("ETag", `"v2"`)
		_, _ = w.Write([]byte(`{"success":true,"message":"Products saved successfully","data":{"products":[{"id":"1","name":"A","category":"Razors"}],"lastUpdated":"2024-03-01T10:00:00Z","version":"1.0"}}`))
	}))
	defer server.Close()

	res := newTestClient(server).Push(context.Background(), []catalog.Product{{ID: "1", Name: "A", Category: "Razors"}})
	if !res.Success || res.Message != "Products saved successfully" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.HasPrefix(body, `{"products":[{"id":"1"`) {
		t.Fatalf("unexpected request body %s", body)
	}
	if res.Document == nil || res.Document.ETag != "v2" || len(res.Document.Products) != 1 {
		t.Fatalf("expected echoed document, got %+v", res.Document)
	}
}

func TestPushFailures(t *testing.T) {
	cases := map[string]struct {
		handler http.HandlerFunc
		message string
	}{
		"error body": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"Invalid products data"}`))
			},
			message: "Invalid products data",
		},
		"error body with 200": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			},
			message: "nope",
		},
		"no success flag": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"message":"hmm"}`))
			},
			message: "hmm",
		},
		"persistent 500": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"Internal server error","message":"disk full"}`))
			},
			message: "disk full",
		},
	}
	for name, tc := range cases {
		server := httptest.NewServer(tc.handler)
		res := newTestClient(server).Push(context.Background(), nil)
		server.Close()
		if res.Success {
			t.Fatalf("%s: expected failure", name)
		}
		if !strings.Contains(res.Message, tc.message) {
			t.Fatalf("%s: expected message containing %q, got %q", name, tc.message, res.Message)
		}
	}
}

func TestPushReportsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := newTestClient(server)
	server.Close()

	res := client.Push(context.Background(), nil)
	if res.Success || res.Message == "" {
		t.Fatalf("expected diagnostic failure, got %+v", res)
	}
}

func TestPushIfMatchSendsHeaderAndMapsConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("If-Match"); got != `"old"` {
			t.Fatalf("expected If-Match \"old\", got %q", got)
		}
		w.Header().Set("ETag", `"new"`)
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"Version conflict"}`))
	}))
	defer server.Close()

	client := newTestClient(server)
	_, err := client.doJSON(context.Background(), http.MethodPost, map[string]string{"If-Match": `"old"`}, map[string]any{"products": []any{}}, nil)
	var conflict *ConflictError
	if !errors.As(err, &conflict) || !errors.Is(err, ErrConflict) || conflict.ETag != "new" {
		t.Fatalf("expected conflict with etag new, got %v", err)
	}
	if res := client.PushIfMatch(context.Background(), nil, "old"); res.Success {
		t.Fatalf("expected conditional push to fail on conflict")
	}
}

func TestRetryDelayHonoursRetryAfterAndCap(t *testing.T) {
	client := NewHTTPClient(HTTPClientOptions{})
	if got := client.retryDelay(1, "1"); got != time.Second {
		t.Fatalf("expected Retry-After of 1s, got %s", got)
	}
	if got := client.retryDelay(1, "30"); got != 2*time.Second {
		t.Fatalf("expected Retry-After capped at 2s, got %s", got)
	}
	if got := client.retryDelay(3, ""); got != 400*time.Millisecond {
		t.Fatalf("expected 400ms backoff on third attempt, got %s", got)
	}
	if got := client.retryDelay(10, ""); got != 2*time.Second {
		t.Fatalf("expected backoff capped at 2s, got %s", got)
	}
}

func TestWatchURL(t *testing.T) {
	client := NewHTTPClient(HTTPClientOptions{BaseURL: "https://catalog.example/", Path: "/.netlify/functions/products"})
	if got := client.WatchURL(); got != "wss://catalog.example/.netlify/functions/products/ws" {
		t.Fatalf("unexpected watch url %s", got)
	}
}

func TestWatchDeliversNotices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products/ws" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		_ = conn.Write(r.Context(), websocket.MessageText, []byte(`{"type":"catalog.updated","version":"v9"}`))
		_, _, _ = conn.Read(context.Background())
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got ChangeNotice
	err := newTestClient(server).Watch(ctx, func(n ChangeNotice) {
		got = n
		cancel()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected watch to end with context.Canceled, got %v", err)
	}
	if got.Type != "catalog.updated" || got.Version != "v9" {
		t.Fatalf("unexpected notice %+v", got)
	}
}
