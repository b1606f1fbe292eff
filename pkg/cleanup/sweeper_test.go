package cleanup

import (
	"context"
	"testing"

	"github.com/perdedora/safe/pkg/store"
	"github.com/perdedora/safe/pkg/store/models"
)

func TestSweepDeletesExpired(t *testing.T) {
	d, s, p := newTestDeleter(t)
	ctx := context.Background()

	orig := nowUnix
	nowUnix = func() int64 { return 5000 }
	defer func() { nowUnix = orig }()

	past := int64(1000)
	future := int64(9000)
	expired := commitFile(t, s, p, "expired.bin", nil)
	keep := commitFile(t, s, p, "keep.bin", nil)
	forever := commitFile(t, s, p, "forever.bin", nil)
	setExpiry(t, s, expired.ID, &past)
	setExpiry(t, s, keep.ID, &future)

	sweeper := NewSweeper(s, d, 0)
	n, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}

	if _, err := s.GetFileByID(ctx, expired.ID); err == nil {
		t.Error("expired row should be gone")
	}
	if _, err := s.GetFileByID(ctx, keep.ID); err != nil {
		t.Error("unexpired row must survive")
	}
	if _, err := s.GetFileByID(ctx, forever.ID); err != nil {
		t.Error("permanent row must survive")
	}
}

func TestSweepNothingExpired(t *testing.T) {
	d, s, _ := newTestDeleter(t)
	sweeper := NewSweeper(s, d, 0)

	n, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("swept = %d, want 0", n)
	}
}

func TestSweepSkipsWhenInProgress(t *testing.T) {
	d, s, _ := newTestDeleter(t)
	sweeper := NewSweeper(s, d, 0)

	sweeper.inProgress.Store(true)
	n, err := sweeper.Sweep(context.Background())
	if err != nil || n != 0 {
		t.Errorf("overlapping sweep = %d, %v; want 0, nil", n, err)
	}
}

func setExpiry(t *testing.T, s *store.GORMStore, id uint, ts *int64) {
	t.Helper()
	err := s.DB().Model(&models.File{}).Where("id = ?", id).Update("expirydate", ts).Error
	if err != nil {
		t.Fatalf("setExpiry: %v", err)
	}
}
