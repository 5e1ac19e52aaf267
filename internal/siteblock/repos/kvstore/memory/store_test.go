package memory

import (
	"testing"

	"github.com/haukened/siteblock/internal/siteblock/repos/kvstore"
	"github.com/haukened/siteblock/internal/siteblock/repos/kvstore/kvstoretest"
)

func TestMemoryStore_Contract(t *testing.T) {
	kvstoretest.Run(t, func(t *testing.T) kvstore.Store {
		s := New()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMemoryStore_ValuesAreCopied(t *testing.T) {
	s := New()
	in := []string{"a"}
	if err := s.Set("k", in); err != nil {
		t.Fatalf("Set: %v", err)
	}
	in[0] = "mutated"

	var out []string
	if _, err := s.Get("k", &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out[0] != "a" {
		t.Fatalf("stored value aliased caller slice: %v", out)
	}
}
