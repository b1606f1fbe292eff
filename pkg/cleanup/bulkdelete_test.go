package cleanup

import (
	"context"
	"os"
	"testing"

	"github.com/perdedora/safe/pkg/paths"
	"github.com/perdedora/safe/pkg/store"
	"github.com/perdedora/safe/pkg/store/models"
)

func newTestDeleter(t *testing.T) (*Deleter, *store.GORMStore, *paths.Paths) {
	t.Helper()
	s, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	p := paths.New(t.TempDir(), "")
	if err := p.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return NewDeleter(s, p), s, p
}

func commitFile(t *testing.T, s *store.GORMStore, p *paths.Paths, name string, userID *uint) *models.File {
	t.Helper()
	path, err := p.UploadPath(name)
	if err != nil {
		t.Fatalf("UploadPath: %v", err)
	}
	if err := os.WriteFile(path, []byte("content"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f := &models.File{Name: name, Size: 7, UserID: userID}
	results, _, err := s.CommitFiles(context.Background(), []*models.File{f})
	if err != nil {
		t.Fatalf("CommitFiles: %v", err)
	}
	return results[0].File
}

func newUser(t *testing.T, s *store.GORMStore, username string, rank int) *models.User {
	t.Helper()
	hash, _ := models.HashPassword("x")
	token, _ := models.GenerateToken()
	u := &models.User{Username: username, PasswordHash: hash, Token: token, Enabled: true, Permission: rank}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func TestDeleteByName(t *testing.T) {
	d, s, p := newTestDeleter(t)
	ctx := context.Background()
	u := newUser(t, s, "alice", models.RankUser)

	f := commitFile(t, s, p, "mine.bin", &u.ID)

	failed, err := d.DeleteByField(ctx, "name", []any{"mine.bin"}, u)
	if err != nil {
		t.Fatalf("DeleteByField: %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("failed = %v", failed)
	}

	if _, err := s.GetFileByID(ctx, f.ID); err == nil {
		t.Error("row should be gone")
	}
	ok, _ := p.UploadExists("mine.bin")
	if ok {
		t.Error("bytes should be unlinked")
	}
}

func TestDeleteOwnerScoping(t *testing.T) {
	d, s, p := newTestDeleter(t)
	ctx := context.Background()
	alice := newUser(t, s, "alice", models.RankUser)
	bob := newUser(t, s, "bob", models.RankUser)

	f := commitFile(t, s, p, "bobs.bin", &bob.ID)

	// A plain user cannot delete someone else's upload; the value is
	// reported back as failed.
	failed, err := d.DeleteByField(ctx, "id", []any{f.ID}, alice)
	if err != nil {
		t.Fatalf("DeleteByField: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("failed = %v, want the foreign id", failed)
	}
	if _, err := s.GetFileByID(ctx, f.ID); err != nil {
		t.Error("foreign row must survive")
	}

	// A moderator can.
	mod := newUser(t, s, "mod", models.RankModerator)
	failed, err = d.DeleteByField(ctx, "id", []any{f.ID}, mod)
	if err != nil {
		t.Fatalf("moderator delete: %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("failed = %v", failed)
	}
}

func TestDeleteMissingValuesReported(t *testing.T) {
	d, s, p := newTestDeleter(t)
	ctx := context.Background()

	commitFile(t, s, p, "real.bin", nil)

	failed, err := d.DeleteByField(ctx, "name", []any{"real.bin", "ghost.bin"}, nil)
	if err != nil {
		t.Fatalf("DeleteByField: %v", err)
	}
	if len(failed) != 1 || failed[0] != "ghost.bin" {
		t.Errorf("failed = %v, want [ghost.bin]", failed)
	}
}

func TestDeleteStaleRowWithoutBytes(t *testing.T) {
	d, s, p := newTestDeleter(t)
	ctx := context.Background()

	f := commitFile(t, s, p, "stale.bin", nil)
	if err := p.RemoveUpload("stale.bin"); err != nil {
		t.Fatalf("RemoveUpload: %v", err)
	}

	// The bytes are already gone; the row still gets deleted.
	failed, err := d.DeleteByField(ctx, "id", []any{f.ID}, nil)
	if err != nil {
		t.Fatalf("DeleteByField: %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("failed = %v", failed)
	}
	if _, err := s.GetFileByID(ctx, f.ID); err == nil {
		t.Error("stale row should be gone")
	}
}

func TestDeleteValidatesInput(t *testing.T) {
	d, _, _ := newTestDeleter(t)
	ctx := context.Background()

	if _, err := d.DeleteByField(ctx, "hash", []any{"x"}, nil); err == nil {
		t.Error("unknown field should fail")
	}
	if _, err := d.DeleteByField(ctx, "id", nil, nil); err == nil {
		t.Error("empty values should fail")
	}
}

func TestChunkSlice(t *testing.T) {
	values := make([]any, 7)
	for i := range values {
		values[i] = i
	}

	chunks := chunkSlice(values, 3)
	if len(chunks) != 3 {
		t.Fatalf("len = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 3 || len(chunks[1]) != 3 || len(chunks[2]) != 1 {
		t.Errorf("chunk sizes = %d, %d, %d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}

	small := chunkSlice(values[:2], 3)
	if len(small) != 1 {
		t.Errorf("small input should stay one chunk, got %d", len(small))
	}
}
