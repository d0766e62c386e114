package fieldservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Directory kinds. The kind selects the listing endpoint and the field the
// lookup key is matched against.
const (
	// KindCustomer resolves by customer name.
	KindCustomer = "customer"
	// KindEmployee resolves by employee email.
	KindEmployee = "employee"
)

// maxDirectoryPages bounds how far a cache-miss lookup pages through the
// listing endpoint before giving up.
const maxDirectoryPages = 5

type directoryEntry struct {
	ID    json.RawMessage `json:"id"`
	Name  string          `json:"name"`
	Email string          `json:"email"`
}

type directoryPage struct {
	Items []directoryEntry `json:"items"`
}

// ResolveDirectoryID resolves a downstream id for the given kind and lookup
// key. Cache first; on a miss it pages through the listing endpoint matching
// case-insensitively on the kind's key (customer name, employee email) and
// caches the first hit. An exhausted listing returns ("", nil), not an error.
func (c *Client) ResolveDirectoryID(ctx context.Context, kind, lookup string) (string, error) {
	if lookup == "" {
		return "", nil
	}
	if cached, err := c.cache.GetCachedDirectoryID(ctx, kind, lookup); err != nil {
		return "", fmt.Errorf("directory cache lookup %s/%s: %w", kind, lookup, err)
	} else if cached != "" {
		return cached, nil
	}

	path, err := listingPath(kind)
	if err != nil {
		return "", err
	}

	for page := 1; page <= maxDirectoryPages; page++ {
		var listing directoryPage
		err := c.limiter.Do(ctx, func() error {
			raw, callErr := c.do(ctx, http.MethodGet, fmt.Sprintf("%s?page=%d", path, page), nil)
			if callErr != nil {
				return callErr
			}
			return json.Unmarshal(raw, &listing)
		})
		if err != nil {
			return "", fmt.Errorf("listing %s page %d: %w", kind, page, err)
		}
		if len(listing.Items) == 0 {
			break
		}

		for _, entry := range listing.Items {
			if !matches(kind, entry, lookup) {
				continue
			}
			id := idString(rawToAny(entry.ID))
			if id == "" {
				continue
			}
			if err := c.cache.CacheDirectoryID(ctx, kind, lookup, id); err != nil {
				c.log.Warn("caching directory id failed", "kind", kind, "lookup", lookup, "error", err)
			}
			return id, nil
		}
	}
	return "", nil
}

// ResolveDefaultCustomer resolves the configured default customer's id. Unlike
// the generic path, a missing customer is created rather than reported as a
// miss; only a failed creation is a hard error.
func (c *Client) ResolveDefaultCustomer(ctx context.Context) (string, error) {
	id, err := c.ResolveDirectoryID(ctx, KindCustomer, c.defaultCustomer)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	c.log.Info("default customer not found, creating it", "name", c.defaultCustomer)
	var raw []byte
	err = c.limiter.Do(ctx, func() error {
		var callErr error
		raw, callErr = c.do(ctx, http.MethodPost, "/api/v1/customers", map[string]any{
			"name": c.defaultCustomer,
		})
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("creating default customer %q: %w", c.defaultCustomer, err)
	}

	id, err = extractID(raw)
	if err != nil {
		return "", fmt.Errorf("creating default customer %q: %w", c.defaultCustomer, err)
	}
	if err := c.cache.CacheDirectoryID(ctx, KindCustomer, c.defaultCustomer, id); err != nil {
		c.log.Warn("caching default customer id failed", "error", err)
	}
	return id, nil
}

func listingPath(kind string) (string, error) {
	switch kind {
	case KindCustomer:
		return "/api/v1/customers", nil
	case KindEmployee:
		return "/api/v1/employees", nil
	default:
		return "", fmt.Errorf("unknown directory kind %q", kind)
	}
}

func matches(kind string, entry directoryEntry, lookup string) bool {
	switch kind {
	case KindEmployee:
		return strings.EqualFold(entry.Email, lookup)
	default:
		return strings.EqualFold(entry.Name, lookup)
	}
}

func rawToAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}
