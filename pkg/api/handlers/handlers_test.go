package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/perdedora/safe/internal/cache"
	"github.com/perdedora/safe/pkg/api/middleware"
	"github.com/perdedora/safe/pkg/chunks"
	"github.com/perdedora/safe/pkg/cleanup"
	"github.com/perdedora/safe/pkg/ident"
	"github.com/perdedora/safe/pkg/ingest"
	"github.com/perdedora/safe/pkg/paths"
	"github.com/perdedora/safe/pkg/retention"
	"github.com/perdedora/safe/pkg/store"
	"github.com/perdedora/safe/pkg/store/models"
)

type testEnv struct {
	store  *store.GORMStore
	paths  *paths.Paths
	caches *cache.Stores
	srv    *httptest.Server
}

// newTestEnv wires the handler against an in-memory store and a router
// mirroring the real route layout.
func newTestEnv(t *testing.T, cfg Config) *testEnv {
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

	caches := cache.NewStores(cache.Config{})
	idents := ident.New(s, p, ident.CheckDatabase)
	ret := retention.New(retention.Config{
		Enabled: true,
		Periods: map[string][]float64{"user": {0, 24}},
	})

	chunker := chunks.New(chunks.Config{Hashing: true}, p)
	t.Cleanup(chunker.Shutdown)

	if cfg.MaxSize == 0 {
		cfg.MaxSize = 1 << 20
	}
	engine := ingest.New(ingest.Config{MaxSize: cfg.MaxSize, Hashing: true},
		s, idents, p, chunker, ret).WithInvalidator(caches)
	deleter := cleanup.NewDeleter(s, p).WithInvalidator(caches)

	if cfg.Domain == "" {
		cfg.Domain = "https://i.example.com"
	}
	h := New(cfg, s, engine, deleter, nil, ret, idents, p, caches, nil)
	auth := middleware.NewAuth(s, nil, WriteError)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.Optional)
			r.Get("/check", h.Check)
		})
		r.Post("/login", h.Login)
		r.Post("/register", h.Register)
		r.Post("/tokens/verify", h.VerifyToken)

		r.Group(func(r chi.Router) {
			r.Use(auth.Optional)
			r.Post("/upload", h.Upload)
			r.Post("/upload/finishchunks", h.FinishChunks)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Require)
			r.Post("/password/change", h.ChangePassword)
			r.Post("/tokens/change", h.ChangeToken)
			r.Post("/upload/delete", h.Delete)
			r.Post("/upload/bulkdelete", h.BulkDelete)
			r.Get("/upload/get/{identifier}", h.GetFile)
			r.Get("/uploads", h.ListUploads)
			r.Get("/uploads/{page:-?[0-9]+}", h.ListUploads)
			r.Get("/albums", h.ListAlbums)
			r.Post("/albums", h.CreateAlbum)
			r.Post("/albums/edit", h.EditAlbum)
			r.Post("/albums/rename", h.RenameAlbum)
			r.Post("/albums/disable", h.DisableAlbum)
			r.Post("/albums/delete", h.DeleteAlbum)
			r.Post("/albums/addfiles", h.AddFilesToAlbum)
			r.Get("/stats", h.Statistics)
		})

		r.Get("/album/get/{identifier}", h.GetAlbum)
	})
	r.Get("/{name}", h.ServeFile)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{store: s, paths: p, caches: caches, srv: srv}
}

func (e *testEnv) user(t *testing.T, username string, rank int) *models.User {
	t.Helper()
	hash, _ := models.HashPassword("secret")
	token, _ := models.GenerateToken()
	u := &models.User{Username: username, PasswordHash: hash, Token: token, Enabled: true, Permission: rank}
	if err := e.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func (e *testEnv) file(t *testing.T, name string, userID *uint) *models.File {
	t.Helper()
	path, err := e.paths.UploadPath(name)
	if err != nil {
		t.Fatalf("UploadPath: %v", err)
	}
	if err := os.WriteFile(path, []byte("content"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f := &models.File{Name: name, Size: 7, UserID: userID}
	results, _, err := e.store.CommitFiles(context.Background(), []*models.File{f})
	if err != nil {
		t.Fatalf("CommitFiles: %v", err)
	}
	return results[0].File
}

// call issues one request and decodes the JSON response.
func (e *testEnv) call(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequest(method, e.srv.URL+path, reqBody)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(middleware.TokenHeader, token)
	}

	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var parsed map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, parsed
}

func TestCheck(t *testing.T) {
	env := newTestEnv(t, Config{Private: true, Version: "1.2.3", MaxSize: 512})

	status, body := env.call(t, http.MethodGet, "/api/check", "", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["private"] != true {
		t.Error("private should be reported")
	}
	if body["version"] != "1.2.3" {
		t.Errorf("version = %v", body["version"])
	}
	if _, ok := body["temporaryUploadAges"]; !ok {
		t.Error("retention ages should be advertised")
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, Config{})
	u := env.user(t, "alice", models.RankUser)

	status, body := env.call(t, http.MethodPost, "/api/login", "",
		map[string]string{"username": "alice", "password": "secret"})
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %v", status, body)
	}
	if body["token"] != u.Token {
		t.Error("login should return the account token")
	}

	status, _ = env.call(t, http.MethodPost, "/api/login", "",
		map[string]string{"username": "alice", "password": "wrong"})
	if status != http.StatusForbidden {
		t.Errorf("wrong password status = %d, want 403", status)
	}
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t, Config{EnableUserAccounts: true})

	status, body := env.call(t, http.MethodPost, "/api/register", "",
		map[string]string{"username": "newuser", "password": "longenough"})
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %v", status, body)
	}
	if body["token"] == "" {
		t.Error("registration should return a token")
	}

	tests := []struct {
		name string
		req  map[string]string
	}{
		{"duplicate", map[string]string{"username": "newuser", "password": "longenough"}},
		{"bad username", map[string]string{"username": "x", "password": "longenough"}},
		{"reserved root", map[string]string{"username": "ROOT", "password": "longenough"}},
		{"short password", map[string]string{"username": "another", "password": "abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := env.call(t, http.MethodPost, "/api/register", "", tt.req)
			if status != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", status)
			}
		})
	}
}

func TestRegisterDisabled(t *testing.T) {
	env := newTestEnv(t, Config{EnableUserAccounts: false})
	status, _ := env.call(t, http.MethodPost, "/api/register", "",
		map[string]string{"username": "newuser", "password": "longenough"})
	if status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", status)
	}
}

func TestVerifyToken(t *testing.T) {
	env := newTestEnv(t, Config{})
	u := env.user(t, "alice", models.RankModerator)

	status, body := env.call(t, http.MethodPost, "/api/tokens/verify", "",
		map[string]string{"token": u.Token})
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["username"] != "alice" || body["group"] != "moderator" {
		t.Errorf("body = %v", body)
	}

	status, body = env.call(t, http.MethodPost, "/api/tokens/verify", "",
		map[string]string{"token": "bogus"})
	if status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", status)
	}
	if code, _ := body["code"].(float64); int(code) != 10001 {
		t.Errorf("code = %v, want 10001", body["code"])
	}
}

func TestChangePasswordAndToken(t *testing.T) {
	env := newTestEnv(t, Config{})
	u := env.user(t, "alice", models.RankUser)

	status, _ := env.call(t, http.MethodPost, "/api/password/change", u.Token,
		map[string]string{"password": "fresh-secret"})
	if status != http.StatusOK {
		t.Fatalf("password change status = %d", status)
	}
	status, _ = env.call(t, http.MethodPost, "/api/login", "",
		map[string]string{"username": "alice", "password": "fresh-secret"})
	if status != http.StatusOK {
		t.Error("new password should log in")
	}

	status, body := env.call(t, http.MethodPost, "/api/tokens/change", u.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("token change status = %d", status)
	}
	fresh, _ := body["token"].(string)
	if fresh == "" || fresh == u.Token {
		t.Error("token should be rotated")
	}

	// The old token is dead.
	status, _ = env.call(t, http.MethodPost, "/api/tokens/change", u.Token, nil)
	if status != http.StatusForbidden {
		t.Errorf("old token status = %d, want 403", status)
	}
}

func TestDeleteUpload(t *testing.T) {
	env := newTestEnv(t, Config{})
	u := env.user(t, "alice", models.RankUser)
	f := env.file(t, "mine.bin", &u.ID)

	status, body := env.call(t, http.MethodPost, "/api/upload/delete", u.Token,
		map[string]any{"id": f.ID})
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %v", status, body)
	}

	if _, err := env.store.GetFileByID(context.Background(), f.ID); err == nil {
		t.Error("row should be gone")
	}
	ok, _ := env.paths.UploadExists("mine.bin")
	if ok {
		t.Error("bytes should be unlinked")
	}
}

func TestBulkDeleteScoped(t *testing.T) {
	env := newTestEnv(t, Config{})
	alice := env.user(t, "alice", models.RankUser)
	bob := env.user(t, "bob", models.RankUser)
	mine := env.file(t, "mine.bin", &alice.ID)
	theirs := env.file(t, "theirs.bin", &bob.ID)

	status, body := env.call(t, http.MethodPost, "/api/upload/bulkdelete", alice.Token,
		map[string]any{"field": "id", "values": []uint{mine.ID, theirs.ID}})
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	failed, _ := body["failed"].([]any)
	if len(failed) != 1 {
		t.Errorf("failed = %v, want the foreign id", failed)
	}
	if _, err := env.store.GetFileByID(context.Background(), theirs.ID); err != nil {
		t.Error("foreign row must survive")
	}
}

func TestListUploads(t *testing.T) {
	env := newTestEnv(t, Config{PageSize: 10})
	u := env.user(t, "alice", models.RankUser)
	env.file(t, "a.bin", &u.ID)
	env.file(t, "b.bin", &u.ID)
	env.file(t, "anon.bin", nil)

	status, body := env.call(t, http.MethodGet, "/api/uploads", u.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if count, _ := body["count"].(float64); int(count) != 2 {
		t.Errorf("count = %v, want 2 (owner scoped)", body["count"])
	}
}

func TestListUploadsAllRequiresModerator(t *testing.T) {
	env := newTestEnv(t, Config{})
	u := env.user(t, "alice", models.RankUser)

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/uploads", nil)
	req.Header.Set(middleware.TokenHeader, u.Token)
	req.Header.Set("all", "1")
	resp, err := env.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestGetFileOwnership(t *testing.T) {
	env := newTestEnv(t, Config{})
	alice := env.user(t, "alice", models.RankUser)
	bob := env.user(t, "bob", models.RankUser)
	mod := env.user(t, "mod", models.RankModerator)
	env.file(t, "bobs.bin", &bob.ID)

	status, _ := env.call(t, http.MethodGet, "/api/upload/get/bobs.bin", alice.Token, nil)
	if status != http.StatusNotFound {
		t.Errorf("foreign file status = %d, want 404", status)
	}
	status, _ = env.call(t, http.MethodGet, "/api/upload/get/bobs.bin", bob.Token, nil)
	if status != http.StatusOK {
		t.Errorf("own file status = %d", status)
	}
	status, _ = env.call(t, http.MethodGet, "/api/upload/get/bobs.bin", mod.Token, nil)
	if status != http.StatusOK {
		t.Errorf("moderator status = %d", status)
	}
}

func TestAlbumLifecycle(t *testing.T) {
	env := newTestEnv(t, Config{})
	u := env.user(t, "alice", models.RankUser)

	// Create.
	status, body := env.call(t, http.MethodPost, "/api/albums", u.Token,
		map[string]any{"name": "holiday", "description": "summer"})
	if status != http.StatusOK {
		t.Fatalf("create status = %d, body %v", status, body)
	}
	albumID := uint(body["id"].(float64))

	// Duplicate name.
	status, _ = env.call(t, http.MethodPost, "/api/albums", u.Token,
		map[string]any{"name": "holiday"})
	if status != http.StatusBadRequest {
		t.Errorf("duplicate status = %d, want 400", status)
	}

	// List.
	status, body = env.call(t, http.MethodGet, "/api/albums", u.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	if count, _ := body["count"].(float64); int(count) != 1 {
		t.Errorf("count = %v, want 1", body["count"])
	}

	// Move a file in.
	f := env.file(t, "pic.png", &u.ID)
	status, body = env.call(t, http.MethodPost, "/api/albums/addfiles", u.Token,
		map[string]any{"albumid": albumID, "ids": []uint{f.ID}})
	if status != http.StatusOK {
		t.Fatalf("addfiles status = %d", status)
	}
	if count, _ := body["count"].(float64); int(count) != 1 {
		t.Errorf("moved = %v, want 1", body["count"])
	}

	// Public page.
	album, err := env.store.GetAlbumByID(context.Background(), albumID)
	if err != nil {
		t.Fatalf("GetAlbumByID: %v", err)
	}
	status, body = env.call(t, http.MethodGet, "/api/album/get/"+album.Identifier, "", nil)
	if status != http.StatusOK {
		t.Fatalf("get status = %d", status)
	}
	if body["title"] != "holiday" {
		t.Errorf("title = %v", body["title"])
	}
	files, _ := body["files"].([]any)
	if len(files) != 1 {
		t.Errorf("files = %v, want 1 entry", files)
	}

	// Rename.
	status, _ = env.call(t, http.MethodPost, "/api/albums/rename", u.Token,
		map[string]any{"id": albumID, "name": "holiday 2026"})
	if status != http.StatusOK {
		t.Errorf("rename status = %d", status)
	}

	// Delete with purge removes the files too.
	status, _ = env.call(t, http.MethodPost, "/api/albums/delete", u.Token,
		map[string]any{"id": albumID, "purge": true})
	if status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}
	if _, err := env.store.GetFileByID(context.Background(), f.ID); err == nil {
		t.Error("purged file should be gone")
	}
}

func TestAlbumEditVisibility(t *testing.T) {
	env := newTestEnv(t, Config{})
	u := env.user(t, "alice", models.RankUser)

	status, body := env.call(t, http.MethodPost, "/api/albums", u.Token,
		map[string]any{"name": "hidden"})
	if status != http.StatusOK {
		t.Fatalf("create status = %d", status)
	}
	albumID := uint(body["id"].(float64))

	public := false
	status, _ = env.call(t, http.MethodPost, "/api/albums/edit", u.Token,
		map[string]any{"id": albumID, "public": public})
	if status != http.StatusOK {
		t.Fatalf("edit status = %d", status)
	}

	album, _ := env.store.GetAlbumByID(context.Background(), albumID)
	status, _ = env.call(t, http.MethodGet, "/api/album/get/"+album.Identifier, "", nil)
	if status != http.StatusNotFound {
		t.Errorf("private album status = %d, want 404", status)
	}
}

func TestAlbumDisableHidesShareLink(t *testing.T) {
	env := newTestEnv(t, Config{})
	u := env.user(t, "alice", models.RankUser)

	status, body := env.call(t, http.MethodPost, "/api/albums", u.Token,
		map[string]any{"name": "temp"})
	if status != http.StatusOK {
		t.Fatalf("create status = %d", status)
	}
	albumID := uint(body["id"].(float64))
	album, _ := env.store.GetAlbumByID(context.Background(), albumID)

	status, _ = env.call(t, http.MethodPost, "/api/albums/disable", u.Token,
		map[string]any{"id": albumID})
	if status != http.StatusOK {
		t.Fatalf("disable status = %d", status)
	}

	status, _ = env.call(t, http.MethodGet, "/api/album/get/"+album.Identifier, "", nil)
	if status != http.StatusNotFound {
		t.Errorf("disabled album status = %d, want 404", status)
	}
}

// upload posts a multipart body with one file part, auxiliary fields
// first, the way the reference clients send them.
func (e *testEnv) upload(t *testing.T, token string, fields map[string]string, filename string, content []byte) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	fw, err := mw.CreateFormFile("files[]", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/api/upload", &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set(middleware.TokenHeader, token)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var parsed map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, parsed
}

func TestUploadMultipart(t *testing.T) {
	env := newTestEnv(t, Config{Domain: "https://i.example.com"})
	u := env.user(t, "alice", models.RankUser)

	status, body := env.upload(t, u.Token, nil, "hello.txt", []byte("hello world"))
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %v", status, body)
	}
	files, _ := body["files"].([]any)
	if len(files) != 1 {
		t.Fatalf("files = %v, want 1 entry", files)
	}
	entry := files[0].(map[string]any)
	name, _ := entry["name"].(string)
	if name == "" {
		t.Fatal("response entry has no name")
	}
	if size, _ := entry["size"].(float64); int64(size) != 11 {
		t.Errorf("size = %v, want 11", entry["size"])
	}
	if entry["url"] != "https://i.example.com/"+name {
		t.Errorf("url = %v", entry["url"])
	}

	ok, err := env.paths.UploadExists(name)
	if err != nil || !ok {
		t.Errorf("upload bytes missing on disk: %v", err)
	}

	// Same bytes from the same account come back as the existing row.
	status, body = env.upload(t, u.Token, nil, "hello2.txt", []byte("hello world"))
	if status != http.StatusOK {
		t.Fatalf("replay status = %d", status)
	}
	files, _ = body["files"].([]any)
	entry = files[0].(map[string]any)
	if entry["repeated"] != true {
		t.Error("replay should report repeated")
	}
	if entry["name"] != name {
		t.Errorf("replay name = %v, want %q", entry["name"], name)
	}
}

func TestGetAlbumRenderCached(t *testing.T) {
	env := newTestEnv(t, Config{})
	u := env.user(t, "alice", models.RankUser)

	status, body := env.call(t, http.MethodPost, "/api/albums", u.Token,
		map[string]any{"name": "render me"})
	if status != http.StatusOK {
		t.Fatalf("create status = %d", status)
	}
	albumID := uint(body["id"].(float64))
	album, err := env.store.GetAlbumByID(context.Background(), albumID)
	if err != nil {
		t.Fatalf("GetAlbumByID: %v", err)
	}

	status, body = env.call(t, http.MethodGet, "/api/album/get/"+album.Identifier, "", nil)
	if status != http.StatusOK {
		t.Fatalf("get status = %d", status)
	}
	if body["title"] != "render me" {
		t.Fatalf("title = %v", body["title"])
	}
	if _, ok, _ := env.caches.AlbumRender(albumID); !ok {
		t.Fatal("first read should populate the render cache")
	}

	// A direct database edit is invisible until the entry is evicted.
	if err := env.store.DB().Model(&models.Album{}).Where("id = ?", albumID).
		Update("name", "sneaky rename").Error; err != nil {
		t.Fatalf("rename: %v", err)
	}
	_, body = env.call(t, http.MethodGet, "/api/album/get/"+album.Identifier, "", nil)
	if body["title"] != "render me" {
		t.Errorf("cached title = %v, want the stale render", body["title"])
	}

	env.caches.InvalidateAlbums([]uint{albumID})
	_, body = env.call(t, http.MethodGet, "/api/album/get/"+album.Identifier, "", nil)
	if body["title"] != "sneaky rename" {
		t.Errorf("post-eviction title = %v, want the fresh render", body["title"])
	}
}

func TestStatisticsEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{})
	admin := env.user(t, "boss", models.RankAdmin)
	plain := env.user(t, "alice", models.RankUser)
	env.file(t, "counted.bin", &plain.ID)

	status, _ := env.call(t, http.MethodGet, "/api/stats", plain.Token, nil)
	if status != http.StatusForbidden {
		t.Errorf("non-admin status = %d, want 403", status)
	}

	status, body := env.call(t, http.MethodGet, "/api/stats", admin.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("admin status = %d, body %v", status, body)
	}
	stats, _ := body["stats"].(map[string]any)
	if users, _ := stats["users"].(float64); int(users) != 2 {
		t.Errorf("users = %v, want 2", stats["users"])
	}
	if files, _ := stats["files"].(float64); int(files) != 1 {
		t.Errorf("files = %v, want 1", stats["files"])
	}
	if size, _ := stats["sizeBytes"].(float64); int64(size) != 7 {
		t.Errorf("sizeBytes = %v, want 7", stats["sizeBytes"])
	}

	// Within the snapshot window new rows stay invisible.
	env.file(t, "later.bin", &plain.ID)
	_, body = env.call(t, http.MethodGet, "/api/stats", admin.Token, nil)
	snap, _ := body["stats"].(map[string]any)
	if files, _ := snap["files"].(float64); int(files) != 1 {
		t.Errorf("cached files = %v, want the stale snapshot", snap["files"])
	}

	env.caches.InvalidateStats()
	_, body = env.call(t, http.MethodGet, "/api/stats", admin.Token, nil)
	snap, _ = body["stats"].(map[string]any)
	if files, _ := snap["files"].(float64); int(files) != 2 {
		t.Errorf("fresh files = %v, want 2", snap["files"])
	}
}

func TestServeFileDisposition(t *testing.T) {
	env := newTestEnv(t, Config{})

	path, err := env.paths.UploadPath("abcd1234.bin")
	if err != nil {
		t.Fatalf("UploadPath: %v", err)
	}
	if err := os.WriteFile(path, []byte("content"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f := &models.File{Name: "abcd1234.bin", Original: "my report.bin", Size: 7}
	if _, _, err := env.store.CommitFiles(context.Background(), []*models.File{f}); err != nil {
		t.Fatalf("CommitFiles: %v", err)
	}

	resp, err := env.srv.Client().Get(env.srv.URL + "/abcd1234.bin")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if string(raw) != "content" {
		t.Errorf("body = %q", raw)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != `inline; filename="my report.bin"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if _, ok, _ := env.caches.Disposition.Get("abcd1234.bin"); !ok {
		t.Error("serving should populate the disposition cache")
	}

	// The cached header keeps working without the database row.
	if err := env.store.DeleteFilesByID(context.Background(), []uint{f.ID}); err != nil {
		t.Fatalf("DeleteFilesByID: %v", err)
	}
	resp, err = env.srv.Client().Get(env.srv.URL + "/abcd1234.bin")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("cached status = %d", resp.StatusCode)
	}

	resp, err = env.srv.Client().Get(env.srv.URL + "/zzzz0000.bin")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown name status = %d, want 404", resp.StatusCode)
	}
}

func TestRequireAuthOnProtectedRoutes(t *testing.T) {
	env := newTestEnv(t, Config{})
	for _, path := range []string{"/api/uploads", "/api/albums"} {
		status, _ := env.call(t, http.MethodGet, path, "", nil)
		if status != http.StatusForbidden {
			t.Errorf("%s status = %d, want 403", path, status)
		}
	}
}
