package memory

import (
	"context"
	"testing"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

func TestAuditStoreFilters(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore()
	for _, ev := range []string{"pool.paused", "archive.audit", "pool.emergency_withdraw", "pool.unpaused"} {
		if err := s.Log(ctx, ev, map[string]any{"by": "test"}); err != nil {
			t.Fatal(err)
		}
	}

	pool, err := s.List(ctx, domain.ListOpts{EventPrefix: "pool."})
	if err != nil {
		t.Fatal(err)
	}
	if len(pool) != 3 || pool[0].Event != "pool.unpaused" || pool[2].Event != "pool.paused" {
		t.Fatalf("pool entries = %+v", pool)
	}

	page, _ := s.List(ctx, domain.ListOpts{Limit: 2, Offset: 1})
	if len(page) != 2 || page[0].Event != "pool.emergency_withdraw" || page[1].Event != "archive.audit" {
		t.Fatalf("page = %+v", page)
	}

	if none, _ := s.List(ctx, domain.ListOpts{Offset: 10}); len(none) != 0 {
		t.Fatalf("offset past end returned %d entries", len(none))
	}
}
