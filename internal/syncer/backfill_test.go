package syncer

import (
	"context"
	"testing"
)

func TestBackfill_PagesThroughHistory(t *testing.T) {
	f := newFixture(Options{}, nil)
	f.source.post("@archive", messageRange(1, 250)...)

	stats, err := f.engine.Backfill(context.Background(), archive, 100, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Seen != 250 || stats.Stored != 250 || stats.Skipped != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if f.cursors.Get("@archive") != 0 {
		t.Error("backfill must not move cursors")
	}
}

func TestBackfill_MaxMessages(t *testing.T) {
	f := newFixture(Options{}, nil)
	f.source.post("@archive", messageRange(1, 250)...)

	stats, err := f.engine.Backfill(context.Background(), archive, 100, 120)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Seen != 120 {
		t.Errorf("expected 120 seen, got %d", stats.Seen)
	}
	if _, n := f.recordFor(archive, "131"); n != 1 {
		t.Error("newest 120 messages should be stored")
	}
	if _, n := f.recordFor(archive, "130"); n != 0 {
		t.Error("message 130 is beyond the limit")
	}
}

func TestBackfill_SecondRunSkipsEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Options{}, nil)
	f.source.post("@archive", messageRange(1, 30)...)
	f.engine.Backfill(ctx, archive, 10, 100)

	stats, err := f.engine.Backfill(ctx, archive, 10, 100)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Stored != 0 || stats.Skipped != 30 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestBackfill_StoreFailuresCounted(t *testing.T) {
	f := newFixture(Options{}, nil)
	f.source.post("@archive", messageRange(1, 5)...)
	f.store.insertErr["3"] = errNetwork

	stats, err := f.engine.Backfill(context.Background(), archive, 10, 100)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Failed != 1 || stats.Stored != 4 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
