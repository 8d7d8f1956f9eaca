package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/osrsprice/internal/domain"
)

const testMapping = `[
  {"id": 536, "name": "Dragon bones", "examine": "These would feed a dogfish for months!", "members": true, "limit": 7500, "value": 1, "icon": "Dragon bones.png"},
  {"id": 4151, "name": "Abyssal whip", "members": true, "limit": 70},
  {"name": "No id"},
  {"id": 7}
]`

type fakeMappingSource struct {
	body  []byte
	err   error
	calls atomic.Int32
}

func (f *fakeMappingSource) FetchMapping(context.Context) ([]byte, error) {
	f.calls.Add(1)
	return f.body, f.err
}

func TestParseMapping(t *testing.T) {
	items, err := ParseMapping([]byte(testMapping))
	if err != nil {
		t.Fatalf("ParseMapping() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2 (entries without id or name skipped)", len(items))
	}
	if items[0].ID != 536 || !items[0].Members || items[0].Limit != 7500 {
		t.Errorf("items[0] = %+v", items[0])
	}

	if _, err := ParseMapping([]byte(`{"not":"an array"}`)); !errors.Is(err, domain.ErrCatalogUnavailable) {
		t.Errorf("ParseMapping(object) error = %v, want ErrCatalogUnavailable", err)
	}
}

func TestLoad_FetchesAndCaches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "mapping.json")
	src := &fakeMappingSource{body: []byte(testMapping)}
	cfg := LoadConfig{Path: path, MaxAge: time.Hour, Options: DefaultOptions()}

	c, err := Load(context.Background(), src, cfg, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("mapping not cached: %v", err)
	}

	// A fresh cached copy is used without a download.
	if _, err := Load(context.Background(), src, cfg, nil); err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("FetchMapping calls = %d, want 1", got)
	}

	// ForceRefresh downloads again.
	cfg.ForceRefresh = true
	if _, err := Load(context.Background(), src, cfg, nil); err != nil {
		t.Fatalf("forced Load() error = %v", err)
	}
	if got := src.calls.Load(); got != 2 {
		t.Errorf("FetchMapping calls = %d, want 2", got)
	}
}

func TestLoad_ExpiredCopyRefetched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.json")
	if err := os.WriteFile(path, []byte(testMapping), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	src := &fakeMappingSource{body: []byte(testMapping)}
	if _, err := Load(context.Background(), src, LoadConfig{Path: path, MaxAge: 24 * time.Hour}, nil); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("FetchMapping calls = %d, want 1", got)
	}
}

func TestLoad_FallsBackToCachedCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.json")
	if err := os.WriteFile(path, []byte(testMapping), 0o644); err != nil {
		t.Fatal(err)
	}

	src := &fakeMappingSource{err: domain.ErrNetworkTransient}
	c, err := Load(context.Background(), src, LoadConfig{Path: path, ForceRefresh: true}, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := c.Resolve("abyssal whip"); err != nil {
		t.Errorf("Resolve() error = %v", err)
	}
}

func TestLoad_Unavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.json")

	t.Run("fetch fails without cached copy", func(t *testing.T) {
		src := &fakeMappingSource{err: domain.ErrNetworkFatal}
		_, err := Load(context.Background(), src, LoadConfig{Path: path}, nil)
		if !errors.Is(err, domain.ErrCatalogUnavailable) {
			t.Errorf("Load() error = %v, want ErrCatalogUnavailable", err)
		}
	})

	t.Run("undecodable document", func(t *testing.T) {
		src := &fakeMappingSource{body: []byte("<html>")}
		_, err := Load(context.Background(), src, LoadConfig{Path: path, ForceRefresh: true}, nil)
		if !errors.Is(err, domain.ErrCatalogUnavailable) {
			t.Errorf("Load() error = %v, want ErrCatalogUnavailable", err)
		}
	})

	t.Run("empty document", func(t *testing.T) {
		src := &fakeMappingSource{body: []byte("[]")}
		_, err := Load(context.Background(), src, LoadConfig{Path: path, ForceRefresh: true}, nil)
		if !errors.Is(err, domain.ErrCatalogUnavailable) {
			t.Errorf("Load() error = %v, want ErrCatalogUnavailable", err)
		}
	})
}
