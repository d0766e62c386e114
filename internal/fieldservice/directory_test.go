package fieldservice

import (
	"context"
	"net/http"
	"testing"
)

func TestResolveDirectoryID_CacheHitSkipsBackend(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend should not be called on a cache hit")
	})
	cache := newMemCache()
	_ = cache.CacheDirectoryID(context.Background(), KindCustomer, "Acme", "cust-42")
	c := backend.client(t, cache)

	id, err := c.ResolveDirectoryID(context.Background(), KindCustomer, "Acme")
	if err != nil {
		t.Fatalf("ResolveDirectoryID: %v", err)
	}
	if id != "cust-42" {
		t.Errorf("id = %q, want cust-42", id)
	}
}

func TestResolveDirectoryID_PagesUntilMatchAndCaches(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			_, _ = w.Write([]byte(`{"items": [{"id": "e-1", "email": "a@example.com"}]}`))
		case "2":
			_, _ = w.Write([]byte(`{"items": [{"id": 207, "email": "Tech@Example.com"}]}`))
		default:
			_, _ = w.Write([]byte(`{"items": []}`))
		}
	})
	cache := newMemCache()
	c := backend.client(t, cache)

	// Case-insensitive email match, numeric id normalised to text.
	id, err := c.ResolveDirectoryID(context.Background(), KindEmployee, "tech@example.com")
	if err != nil {
		t.Fatalf("ResolveDirectoryID: %v", err)
	}
	if id != "207" {
		t.Errorf("id = %q, want 207", id)
	}

	cached, _ := cache.GetCachedDirectoryID(context.Background(), KindEmployee, "tech@example.com")
	if cached != "207" {
		t.Errorf("cached id = %q, want 207", cached)
	}

	reqs := backend.recorded()
	if len(reqs) != 2 {
		t.Errorf("requests = %d, want 2 pages", len(reqs))
	}
	if reqs[0].path != "/api/v1/employees?page=1" {
		t.Errorf("first page path = %s", reqs[0].path)
	}
}

func TestResolveDirectoryID_ExhaustedListingIsAMiss(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items": [{"id": "c-1", "name": "Someone Else"}]}`))
	})
	c := backend.client(t, nil)

	id, err := c.ResolveDirectoryID(context.Background(), KindCustomer, "Acme")
	if err != nil {
		t.Fatalf("ResolveDirectoryID: %v", err)
	}
	if id != "" {
		t.Errorf("id = %q, want empty miss", id)
	}
	if got := len(backend.recorded()); got != maxDirectoryPages {
		t.Errorf("requests = %d, want page cap %d", got, maxDirectoryPages)
	}
}

func TestResolveDirectoryID_EmptyLookup(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend should not be called for an empty lookup")
	})
	c := backend.client(t, nil)

	id, err := c.ResolveDirectoryID(context.Background(), KindEmployee, "")
	if err != nil || id != "" {
		t.Errorf("ResolveDirectoryID(\"\") = (%q, %v), want empty no-op", id, err)
	}
}

func TestResolveDirectoryID_UnknownKind(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items": []}`))
	})
	c := backend.client(t, nil)

	if _, err := c.ResolveDirectoryID(context.Background(), "vehicle", "VAN-1"); err == nil {
		t.Error("expected error for an unknown directory kind")
	}
}

func TestResolveDefaultCustomer_Existing(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items": [{"id": "c-7", "name": "service desk"}]}`))
	})
	c := backend.client(t, nil)

	id, err := c.ResolveDefaultCustomer(context.Background())
	if err != nil {
		t.Fatalf("ResolveDefaultCustomer: %v", err)
	}
	if id != "c-7" {
		t.Errorf("id = %q, want c-7 (case-insensitive name match)", id)
	}
}

func TestResolveDefaultCustomer_CreatesOnMiss(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"id": "c-new"}`))
			return
		}
		_, _ = w.Write([]byte(`{"items": []}`))
	})
	cache := newMemCache()
	c := backend.client(t, cache)

	id, err := c.ResolveDefaultCustomer(context.Background())
	if err != nil {
		t.Fatalf("ResolveDefaultCustomer: %v", err)
	}
	if id != "c-new" {
		t.Errorf("id = %q, want c-new", id)
	}

	reqs := backend.recorded()
	last := reqs[len(reqs)-1]
	if last.method != http.MethodPost || last.path != "/api/v1/customers" {
		t.Errorf("last request = %s %s, want POST /api/v1/customers", last.method, last.path)
	}
	if last.body["name"] != "Service Desk" {
		t.Errorf("creation body = %v", last.body)
	}

	cached, _ := cache.GetCachedDirectoryID(context.Background(), KindCustomer, "Service Desk")
	if cached != "c-new" {
		t.Errorf("cached id = %q, want c-new", cached)
	}
}

func TestResolveDefaultCustomer_CreationFailureIsHard(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			http.Error(w, "denied", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"items": []}`))
	})
	c := backend.client(t, nil)

	if _, err := c.ResolveDefaultCustomer(context.Background()); err == nil {
		t.Error("expected hard error when default customer creation fails")
	}
}
