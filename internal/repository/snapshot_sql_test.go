package repository

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"listing-snapshot-api/internal/model"
)

func newTestRepo(t *testing.T) *SQLSnapshotRepository {
	t.Helper()
	repo, err := NewSQLiteSnapshotRepository(filepath.Join(t.TempDir(), "snapshots.db"), nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testSnapshot(id, sku string, created time.Time, listingIDs ...string) *model.Snapshot {
	s := &model.Snapshot{ID: id, SKU: sku, Name: "Mann Co. Supply Crate Key", CreatedAt: created}
	for _, lid := range listingIDs {
		comment := "selling " + lid
		s.Listings = append(s.Listings, model.Listing{
			ID:                  lid,
			SKU:                 sku,
			SteamID64:           "76561198000000000",
			Item:                json.RawMessage(`{"defindex":5021,"quality":6}`),
			Intent:              model.IntentSell,
			CurrenciesKeys:      1,
			CurrenciesHalfScrap: 19,
			IsAutomatic:         true,
			IsOffers:            true,
			Comment:             &comment,
			CreatedAt:           created,
			BumpedAt:            created.Add(time.Minute),
		})
	}
	return s
}

func TestReplaceSnapshotKeepsOnlyLatest(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	if err := repo.ReplaceSnapshot(ctx, testSnapshot("s1", "5021;6", now, "440_1", "440_2")); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	if err := repo.ReplaceSnapshot(ctx, testSnapshot("s2", "5021;6", now.Add(time.Second), "440_3")); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	got, err := repo.GetSnapshot(ctx, "5021;6")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "s2" {
		t.Fatalf("expected second snapshot, got %s", got.ID)
	}
	if len(got.Listings) != 1 || got.Listings[0].ID != "440_3" {
		t.Fatalf("expected only the second call's listings, got %+v", got.Listings)
	}

	l := got.Listings[0]
	if l.Comment == nil || *l.Comment != "selling 440_3" || !l.IsAutomatic || !l.IsOffers || l.IsBuyout {
		t.Fatalf("listing fields not preserved: %+v", l)
	}
	if l.CurrenciesHalfScrap != 19 || l.CurrenciesKeys != 1 || l.Intent != model.IntentSell {
		t.Fatalf("currencies not preserved: %+v", l)
	}
	if !l.BumpedAt.Equal(now.Add(time.Second + time.Minute)) {
		t.Fatalf("unexpected bumped_at %v", l.BumpedAt)
	}

	_, total, err := repo.ListSnapshots(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected exactly one snapshot row, got %d", total)
	}
}

func TestReplaceSnapshotFailureKeepsPrevious(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	if err := repo.ReplaceSnapshot(ctx, testSnapshot("s1", "5021;6", now, "440_1")); err != nil {
		t.Fatalf("replace: %v", err)
	}

	// Duplicate listing ids violate the primary key mid-transaction.
	bad := testSnapshot("s2", "5021;6", now, "440_9", "440_9")
	if err := repo.ReplaceSnapshot(ctx, bad); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := repo.GetSnapshot(ctx, "5021;6")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "s1" || len(got.Listings) != 1 || got.Listings[0].ID != "440_1" {
		t.Fatalf("previous snapshot not intact: %+v", got)
	}
}

func TestConcurrentReplacesLeaveOneSnapshot(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			if err := repo.ReplaceSnapshot(ctx, testSnapshot(id, "5021;6", now, "440_"+id)); err != nil {
				t.Errorf("replace %s: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := repo.GetSnapshot(ctx, "5021;6")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Listings) != 1 || got.Listings[0].ID != "440_"+got.ID {
		t.Fatalf("listings do not belong to the surviving snapshot: %+v", got)
	}
}

func TestGetSnapshotNotFound(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := repo.GetSnapshot(context.Background(), "1;6"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListSnapshotsAndStale(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()

	for i, sku := range []string{"1;6", "2;6", "3;6"} {
		if err := repo.ReplaceSnapshot(ctx, testSnapshot(sku, sku, base.Add(time.Duration(i)*time.Hour), "440_"+sku)); err != nil {
			t.Fatalf("replace %s: %v", sku, err)
		}
	}

	page, total, err := repo.ListSnapshots(ctx, ListOptions{Page: 1, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(page) != 2 || page[0].SKU != "3;6" || page[1].SKU != "2;6" {
		t.Fatalf("unexpected newest-first page %+v (total %d)", page, total)
	}
	if len(page[0].Listings) != 0 {
		t.Fatal("list must not load listings")
	}

	page, _, _ = repo.ListSnapshots(ctx, ListOptions{Page: 2, Limit: 2, Order: "asc"})
	if len(page) != 1 || page[0].SKU != "3;6" {
		t.Fatalf("unexpected ascending second page %+v", page)
	}

	stale, err := repo.ListStale(ctx, base.Add(90*time.Minute), 10)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 2 || stale[0] != "1;6" || stale[1] != "2;6" {
		t.Fatalf("unexpected stale skus %v", stale)
	}

	stats, err := repo.GetStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats["total_snapshots"] != int64(3) || stats["total_listings"] != int64(3) {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestPostgresPlaceholders(t *testing.T) {
	r := &SQLSnapshotRepository{dialect: postgresDialect}
	if got := r.q("SELECT a FROM t WHERE b = ? AND c = ?"); got != "SELECT a FROM t WHERE b = $1 AND c = $2" {
		t.Fatalf("unexpected rebind %q", got)
	}
	r = &SQLSnapshotRepository{dialect: mysqlDialect}
	if got := r.q("b = ?"); got != "b = ?" {
		t.Fatalf("mysql query must be untouched, got %q", got)
	}
}

func TestListOptionsNormalize(t *testing.T) {
	o := ListOptions{Page: 0, Limit: 1000, Order: "sideways"}.Normalize()
	if o.Page != 1 || o.Limit != MaxPageLimit || o.Order != "desc" {
		t.Fatalf("unexpected normalized options %+v", o)
	}
	if off := (ListOptions{Page: 3, Limit: 20}).Offset(); off != 40 {
		t.Fatalf("expected offset 40, got %d", off)
	}
}
