package upstream

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/londonmove/listings-proxy/internal/testutil"
	"github.com/londonmove/listings-proxy/pkg/kvstore"
)

func newTestClient(t *testing.T, mock *testutil.MockUpstream, store kvstore.Store) *Client {
	t.Helper()

	client, err := New(Config{
		Store:        store,
		BaseURL:      mock.URL(),
		Token:        "secret-token",
		FetchTimeout: 2 * time.Second,
		MediaTimeout: 2 * time.Second,
		ETagTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return client
}

func TestNew_Validation(t *testing.T) {
	store := kvstore.NewMemory()

	if _, err := New(Config{BaseURL: "http://example.com"}); err == nil {
		t.Error("Expected error for missing store")
	}
	if _, err := New(Config{Store: store}); err == nil {
		t.Error("Expected error for missing base URL")
	}
}

func TestFetchListings_Fresh(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	store := kvstore.NewMemory()
	client := newTestClient(t, mock, store)

	mock.SetListingsResponse(testutil.NewListingsResponse(`[{"propref":"101"}]`))

	result, err := client.FetchListings(context.Background())
	if err != nil {
		t.Fatalf("FetchListings failed: %v", err)
	}
	if result.Status != StatusFresh {
		t.Errorf("Expected StatusFresh, got %v", result.Status)
	}
	if string(result.Data) != `[{"propref":"101"}]` {
		t.Errorf("Data mismatch: got %s", result.Data)
	}

	// The token travels as a query parameter.
	if mock.LastRequestQuery["token"] != "secret-token" {
		t.Errorf("Expected token query parameter, got %v", mock.LastRequestQuery)
	}

	// The new ETag is persisted for the next request.
	etag, err := store.Get(context.Background(), "listings:etag:properties")
	if err != nil {
		t.Fatalf("ETag not stored: %v", err)
	}
	if string(etag) != `"test-etag-123"` {
		t.Errorf("ETag mismatch: got %s", etag)
	}
}

func TestFetchListings_ETagLongerTTLThanData(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	store := kvstore.NewMemory()
	client := newTestClient(t, mock, store)

	mock.SetListingsResponse(testutil.NewListingsResponse(`[]`))

	if _, err := client.FetchListings(context.Background()); err != nil {
		t.Fatalf("FetchListings failed: %v", err)
	}

	_, md, err := store.GetWithMetadata(context.Background(), "listings:etag:properties")
	if err != nil {
		t.Fatalf("ETag not stored: %v", err)
	}
	if md.TTL() < 55*time.Minute {
		t.Errorf("ETag TTL should be close to the configured hour, got %s", md.TTL())
	}
}

func TestFetchListings_ConditionalRequest(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	store := kvstore.NewMemory()
	client := newTestClient(t, mock, store)
	ctx := context.Background()

	mock.SetListingsResponse(testutil.NewListingsResponse(`[{"propref":"101"}]`))

	if _, err := client.FetchListings(ctx); err != nil {
		t.Fatalf("First fetch failed: %v", err)
	}
	if mock.GetConditionalCount() != 0 {
		t.Error("First fetch should not be conditional")
	}

	// Second fetch attaches If-None-Match; mock answers 304.
	mock.SetHandler("/propertyadvertising.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"test-etag-123"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[]`))
	})

	result, err := client.FetchListings(ctx)
	if err != nil {
		t.Fatalf("Second fetch failed: %v", err)
	}
	if result.Status != StatusNotModified {
		t.Errorf("Expected StatusNotModified, got %v", result.Status)
	}
	if mock.GetConditionalCount() != 1 {
		t.Errorf("Expected 1 conditional request, got %d", mock.GetConditionalCount())
	}
	if result.Data != nil {
		t.Error("304 result must carry no data")
	}
}

func TestFetchListings_304StoresNoNewETag(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	store := kvstore.NewMemory()
	client := newTestClient(t, mock, store)
	ctx := context.Background()

	// Pre-seed an ETag as if a prior fetch stored it.
	if err := store.Put(ctx, "listings:etag:properties", []byte(`"old"`), time.Hour); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	mock.SetListingsResponse(testutil.NewNotModifiedResponse())

	result, err := client.FetchListings(ctx)
	if err != nil {
		t.Fatalf("FetchListings failed: %v", err)
	}
	if result.Status != StatusNotModified {
		t.Fatalf("Expected StatusNotModified, got %v", result.Status)
	}

	etag, err := store.Get(ctx, "listings:etag:properties")
	if err != nil {
		t.Fatalf("ETag lookup failed: %v", err)
	}
	if string(etag) != `"old"` {
		t.Errorf("304 must not replace the stored ETag, got %s", etag)
	}
}

func TestFetchListings_ServerError(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	client := newTestClient(t, mock, kvstore.NewMemory())

	mock.SetListingsResponse(testutil.NewServerErrorResponse())

	_, err := client.FetchListings(context.Background())
	if err == nil {
		t.Fatal("Expected error for 500 response")
	}
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("Expected ErrUpstreamUnavailable, got %v", err)
	}

	var upErr *Error
	if !errors.As(err, &upErr) {
		t.Fatalf("Expected *Error, got %T", err)
	}
	if upErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", upErr.StatusCode)
	}
}

func TestFetchListings_Timeout(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	store := kvstore.NewMemory()

	client, err := New(Config{
		Store:        store,
		BaseURL:      mock.URL(),
		FetchTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	mock.SetListingsResponse(testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       `[]`,
		Delay:      500 * time.Millisecond,
	})

	start := time.Now()
	_, err = client.FetchListings(context.Background())
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("Expected ErrUpstreamUnavailable, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("Timeout did not abort promptly, took %s", elapsed)
	}
	// Only one attempt: no internal retry loop.
	if mock.GetRequestCount() != 1 {
		t.Errorf("Expected exactly 1 upstream attempt, got %d", mock.GetRequestCount())
	}
}

func TestFetchMediaList(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	client := newTestClient(t, mock, kvstore.NewMemory())

	mock.SetMediaResponse(testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       `[{"filename":"p1.jpg","base64data":"aGk=","imgorder":"1"}]`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	})

	data, err := client.FetchMediaList(context.Background(), "101")
	if err != nil {
		t.Fatalf("FetchMediaList failed: %v", err)
	}
	if len(data) == 0 {
		t.Error("Expected media list data")
	}
	// The media endpoint authenticates via header, not query parameter.
	if mock.LastRequestHeader.Get("token") != "secret-token" {
		t.Error("Expected token header on media request")
	}
	if mock.LastRequestQuery["propref"] != "101" {
		t.Errorf("Expected propref query parameter, got %v", mock.LastRequestQuery)
	}
}

func TestFetchMediaFile(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	client := newTestClient(t, mock, kvstore.NewMemory())

	mock.SetMediaResponse(testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       "aGVsbG8=",
	})

	data, err := client.FetchMediaFile(context.Background(), "photo1.jpg")
	if err != nil {
		t.Fatalf("FetchMediaFile failed: %v", err)
	}
	if string(data) != "aGVsbG8=" {
		t.Errorf("Expected base64 body, got %s", data)
	}
	if mock.LastRequestHeader.Get("Accept") != "application/base64" {
		t.Error("Expected application/base64 accept header")
	}
}
