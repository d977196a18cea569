package fub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(&Config{BaseURL: srv.URL, APIKey: "test-key"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, srv
}

func TestBasicAuthHeader(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "test-key" || pass != "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"account": "demo"}`)
	}))

	if err := client.VerifyCredentials(context.Background()); err != nil {
		t.Fatalf("VerifyCredentials: %v", err)
	}
}

func TestVerifyCredentialsRejected(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))

	err := client.VerifyCredentials(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.IsRetryable() {
		t.Error("401 must not be retryable")
	}
}

func TestListPeoplePagination(t *testing.T) {
	const total = 250

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/people" {
			http.NotFound(w, r)
			return
		}
		offset := 0
		fmt.Sscanf(r.URL.Query().Get("offset"), "%d", &offset)

		count := PageSize
		if offset+count > total {
			count = total - offset
		}
		people := make([]map[string]any, count)
		for i := range people {
			people[i] = map[string]any{
				"id":        offset + i + 1,
				"firstName": "Lead",
				"emails":    []map[string]any{{"value": fmt.Sprintf("lead%d@example.com", offset+i+1)}},
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"_metadata": map[string]int{"offset": offset, "limit": PageSize, "total": total},
			"people":    people,
		})
	}))

	ctx := context.Background()
	var fetched []Person
	offset := 0
	for {
		page, meta, err := client.ListPeople(ctx, offset, nil)
		if err != nil {
			t.Fatalf("ListPeople offset=%d: %v", offset, err)
		}
		fetched = append(fetched, page...)
		offset += len(page)
		if offset >= meta.Total || len(page) == 0 {
			break
		}
	}

	if len(fetched) != total {
		t.Fatalf("expected %d people, got %d", total, len(fetched))
	}
	if fetched[0].ID.String() != "1" || fetched[total-1].ID.String() != "250" {
		t.Errorf("unexpected ids at boundaries: %s, %s", fetched[0].ID, fetched[total-1].ID)
	}
}

func TestListPeopleUpdatedAfterFilter(t *testing.T) {
	var gotUpdatedAfter string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUpdatedAfter = r.URL.Query().Get("updatedAfter")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"_metadata": map[string]int{"offset": 0, "limit": PageSize, "total": 0},
			"people":    []any{},
		})
	}))

	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, _, err := client.ListPeople(context.Background(), 0, &since); err != nil {
		t.Fatalf("ListPeople: %v", err)
	}
	if gotUpdatedAfter != "2026-03-01T12:00:00Z" {
		t.Errorf("updatedAfter = %q", gotUpdatedAfter)
	}
}

func TestRateLimitIsRetryable(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))

	_, _, err := client.ListPeople(context.Background(), 0, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !apiErr.IsRetryable() {
		t.Error("429 must be retryable")
	}
}
