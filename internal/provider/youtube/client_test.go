package youtube

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func item(id string, views string) string {
	return fmt.Sprintf(`{"id":%q,"snippet":{"title":"title %s","channelId":"ch","publishedAt":"2023-04-01T09:00:00Z"},"statistics":{"viewCount":%q}}`, id, id, views)
}

func TestFetchCurrentValues_ParsesItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/videos" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Has("key") || q.Get("part") != "snippet,statistics" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if got := r.Header.Get("X-Goog-Api-Key"); got != "secret" {
			t.Errorf("expected api key header, got %q", got)
		}
		fmt.Fprintf(w, `{"items":[%s,%s]}`, item("a", "1000"), item("b", "950"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", 6000, testLogger())
	videos, err := c.FetchCurrentValues(context.Background(), []string{"a", "b"})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(videos) != 2 {
		t.Fatalf("expected 2 videos, got %d", len(videos))
	}
	if videos[0].ID != "a" || videos[0].ViewCount != 1000 || videos[0].Title != "title a" || videos[0].ChannelID != "ch" {
		t.Errorf("unexpected first video: %+v", videos[0])
	}
	if videos[1].ViewCount != 950 || videos[1].PublishedAt.Year() != 2023 {
		t.Errorf("unexpected second video: %+v", videos[1])
	}
}

func TestFetchCurrentValues_SplitsLargeIDSets(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		ids := strings.Split(r.URL.Query().Get("id"), ",")
		if len(ids) > MaxIDsPerRequest {
			t.Errorf("request carried %d ids", len(ids))
		}
		items := make([]string, len(ids))
		for i, id := range ids {
			items[i] = item(id, "1")
		}
		fmt.Fprintf(w, `{"items":[%s]}`, strings.Join(items, ","))
	}))
	defer srv.Close()

	ids := make([]string, 120)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%03d", i)
	}
	videos, err := NewClient(srv.URL, "k", 6000, testLogger()).FetchCurrentValues(context.Background(), ids)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(videos) != 120 {
		t.Errorf("expected 120 videos, got %d", len(videos))
	}
	if got := requests.Load(); got != 3 {
		t.Errorf("expected 3 requests, got %d", got)
	}
}

func TestFetchCurrentValues_AllOrNothing(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 2 {
			http.Error(w, `{"error":"quotaExceeded"}`, http.StatusForbidden)
			return
		}
		fmt.Fprintf(w, `{"items":[%s]}`, item("x", "1"))
	}))
	defer srv.Close()

	ids := make([]string, 60)
	for i := range ids {
		ids[i] = fmt.Sprint(i)
	}
	videos, err := NewClient(srv.URL, "k", 6000, testLogger()).FetchCurrentValues(context.Background(), ids)

	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
	if videos != nil {
		t.Errorf("expected no partial result, got %d videos", len(videos))
	}
}

func TestFetchCurrentValues_MalformedCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"items":[%s]}`, item("a", "many"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k", 6000, testLogger()).FetchCurrentValues(context.Background(), []string{"a"})

	if err == nil || !strings.Contains(err.Error(), "viewCount") {
		t.Fatalf("expected malformed viewCount error, got %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate([]byte("abcdef"), 3); got != "abc..." {
		t.Errorf("expected abc..., got %q", got)
	}
	if got := truncate([]byte("ab"), 3); got != "ab" {
		t.Errorf("expected ab, got %q", got)
	}
}

func TestFetchCurrentValues_TransportErrorOmitsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	_, err := NewClient(srv.URL, "SECRET-API-KEY", 6000, testLogger()).
		FetchCurrentValues(context.Background(), []string{"abc"})

	if err == nil {
		t.Fatal("expected error from a closed server")
	}
	if strings.Contains(err.Error(), "SECRET-API-KEY") {
		t.Errorf("api key leaked into error: %v", err)
	}
}
