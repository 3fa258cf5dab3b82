package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"fileshare/internal/server/config"
	"fileshare/internal/server/database"
	"fileshare/internal/server/storage"
)

// memRepo is an in-memory Repository. Transactions are serialised and
// rolled back by restoring a snapshot.
type memRepo struct {
	mu   sync.Mutex
	txMu sync.Mutex

	users     map[uuid.UUID]database.User
	sessions  map[string]database.SessionToken
	files     []database.FileRecord
	links     map[string]database.SharableLink
	downloads []database.DownloadRecord

	failures map[string]error
	// afterCreateFile runs inside the transaction once the record is added.
	afterCreateFile func()
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:    make(map[uuid.UUID]database.User),
		sessions: make(map[string]database.SessionToken),
		links:    make(map[string]database.SharableLink),
		failures: make(map[string]error),
	}
}

func (r *memRepo) failOn(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[method] = err
}

func (r *memRepo) failure(method string) error {
	return r.failures[method]
}

type memSnapshot struct {
	users     map[uuid.UUID]database.User
	sessions  map[string]database.SessionToken
	files     []database.FileRecord
	links     map[string]database.SharableLink
	downloads []database.DownloadRecord
}

func (r *memRepo) snapshot() memSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := memSnapshot{
		users:     make(map[uuid.UUID]database.User, len(r.users)),
		sessions:  make(map[string]database.SessionToken, len(r.sessions)),
		files:     append([]database.FileRecord(nil), r.files...),
		links:     make(map[string]database.SharableLink, len(r.links)),
		downloads: append([]database.DownloadRecord(nil), r.downloads...),
	}
	for k, v := range r.users {
		s.users[k] = v
	}
	for k, v := range r.sessions {
		s.sessions[k] = v
	}
	for k, v := range r.links {
		s.links[k] = v
	}
	return s
}

func (r *memRepo) restore(s memSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users, r.sessions, r.files, r.links, r.downloads = s.users, s.sessions, s.files, s.links, s.downloads
}

func (r *memRepo) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	snap := r.snapshot()
	if err := fn(ctx); err != nil {
		r.restore(snap)
		return err
	}
	r.mu.Lock()
	err := r.failure("Commit")
	r.mu.Unlock()
	if err != nil {
		r.restore(snap)
	}
	return err
}

func (r *memRepo) CreateUser(ctx context.Context, user *database.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("CreateUser"); err != nil {
		return err
	}
	for _, u := range r.users {
		if u.Email == user.Email {
			return database.ErrDuplicate
		}
	}
	r.users[user.ID] = *user
	return nil
}

func (r *memRepo) GetUserByID(ctx context.Context, id uuid.UUID) (*database.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("GetUserByID"); err != nil {
		return nil, err
	}
	u, ok := r.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &u, nil
}

func (r *memRepo) GetUserByEmail(ctx context.Context, email string) (*database.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("GetUserByEmail"); err != nil {
		return nil, err
	}
	for _, u := range r.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, database.ErrNotFound
}

func (r *memRepo) TouchLastLogin(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return database.ErrNotFound
	}
	now := time.Now()
	u.LastLoginDate = &now
	r.users[id] = u
	return nil
}

func (r *memRepo) AddUploadedBytes(ctx context.Context, id uuid.UUID, n, limit int64) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("AddUploadedBytes"); err != nil {
		return 0, false, err
	}
	u, ok := r.users[id]
	if !ok || u.UploadDataSize+n >= limit {
		return 0, false, nil
	}
	u.UploadDataSize += n
	r.users[id] = u
	return u.UploadDataSize, true, nil
}

func (r *memRepo) CreateSession(ctx context.Context, s *database.SessionToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("CreateSession"); err != nil {
		return err
	}
	r.sessions[s.SessionHash] = *s
	return nil
}

func (r *memRepo) GetSession(ctx context.Context, hash string) (*database.SessionToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("GetSession"); err != nil {
		return nil, err
	}
	s, ok := r.sessions[hash]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &s, nil
}

func (r *memRepo) DeleteSession(ctx context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[hash]; !ok {
		return database.ErrNotFound
	}
	delete(r.sessions, hash)
	return nil
}

func (r *memRepo) CreateFile(ctx context.Context, f *database.FileRecord) error {
	r.mu.Lock()
	if err := r.failure("CreateFile"); err != nil {
		r.mu.Unlock()
		return err
	}
	for _, existing := range r.files {
		if existing.FilePath == f.FilePath {
			r.mu.Unlock()
			return database.ErrDuplicate
		}
	}
	r.files = append(r.files, *f)
	hook := r.afterCreateFile
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (r *memRepo) ListActiveFiles(ctx context.Context, userID uuid.UUID) ([]*database.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("ListActiveFiles"); err != nil {
		return nil, err
	}
	var out []*database.FileRecord
	for _, f := range r.files {
		if f.UserID == userID && f.IsActive {
			f := f
			out = append(out, &f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) GetActiveFile(ctx context.Context, userID uuid.UUID, fileName string) (*database.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if f.UserID == userID && f.FileName == fileName && f.IsActive {
			return &f, nil
		}
	}
	return nil, database.ErrNotFound
}

func (r *memRepo) GetFileByPath(ctx context.Context, path string) (*database.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if f.FilePath == path {
			return &f, nil
		}
	}
	return nil, database.ErrNotFound
}

func (r *memRepo) DeactivateFile(ctx context.Context, userID uuid.UUID, fileName string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("DeactivateFile"); err != nil {
		return false, err
	}
	for i, f := range r.files {
		if f.UserID == userID && f.FileName == fileName && f.IsActive {
			r.files[i].IsActive = false
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) GetStats(ctx context.Context) (*database.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &database.Stats{TotalUsers: int64(len(r.users)), TotalDownloads: int64(len(r.downloads))}
	for _, f := range r.files {
		if f.IsActive {
			stats.ActiveFiles++
		}
		stats.StorageUsed += f.FileSize
	}
	return stats, nil
}

func (r *memRepo) CreateLink(ctx context.Context, l *database.SharableLink) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("CreateLink"); err != nil {
		return false, err
	}
	if _, ok := r.links[l.Path]; ok {
		return false, nil
	}
	r.links[l.Path] = *l
	return true, nil
}

func (r *memRepo) GetLinkByPath(ctx context.Context, path string) (*database.SharableLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("GetLinkByPath"); err != nil {
		return nil, err
	}
	l, ok := r.links[path]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &l, nil
}

func (r *memRepo) CreateDownload(ctx context.Context, d *database.DownloadRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("CreateDownload"); err != nil {
		return err
	}
	r.downloads = append(r.downloads, *d)
	return nil
}

func (r *memRepo) user(id uuid.UUID) database.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[id]
}

func (r *memRepo) setUsage(id uuid.UUID, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.users[id]
	u.UploadDataSize = n
	r.users[id] = u
}

func (r *memRepo) fileCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

func (r *memRepo) downloadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.downloads)
}

// --- Fixture ---

type fixture struct {
	repo     *memRepo
	store    *storage.FileSystemStore
	dir      string
	cfg      *config.Config
	auth     *AuthService
	ledger   *Ledger
	uploads  *UploadService
	registry *Registry
	sharing  *SharingService
}

func testConfig() *config.Config {
	return &config.Config{
		AllowedExtensions: config.ParseExtensions("pdf,png,csv,docx"),
		MaxFileSize:       1024,
		UploadSizePerUser: 4096,
		StoreTimeout:      time.Second,
		ResumeSecret:      "test-secret",
		ResumeTokenTTL:    time.Minute,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := testConfig()
	dir := t.TempDir()
	repo := newMemRepo()
	store := storage.NewFileSystemStore(dir)

	auth := NewAuthService(repo, store, cfg)
	auth.bcryptCost = bcrypt.MinCost
	ledger := NewLedger(repo, cfg.UploadSizePerUser)

	sharing, err := NewSharingService(repo, store, cfg)
	if err != nil {
		t.Fatalf("failed to create sharing service: %v", err)
	}

	return &fixture{
		repo:     repo,
		store:    store,
		dir:      dir,
		cfg:      cfg,
		auth:     auth,
		ledger:   ledger,
		uploads:  NewUploadService(repo, store, auth, ledger, cfg),
		registry: NewRegistry(repo, cfg.StoreTimeout),
		sharing:  sharing,
	}
}

// signup registers a user and logs them in.
func (f *fixture) signup(t *testing.T, name string) *Principal {
	t.Helper()
	email := strings.ToLower(name) + "@example.com"

	_, err := f.auth.Register(context.Background(), RegisterRequest{
		Email:     email,
		Name:      name,
		Password:  "secret",
		Password2: "secret",
	})
	if err != nil {
		t.Fatalf("failed to register %s: %v", name, err)
	}

	p, err := f.auth.Login(context.Background(), email, "secret")
	if err != nil {
		t.Fatalf("failed to log in %s: %v", name, err)
	}
	return p
}

// upload stores content under filename for p and fails the test on error.
func (f *fixture) upload(t *testing.T, p *Principal, filename, content string) *database.FileRecord {
	t.Helper()

	res, err := f.uploads.Upload(context.Background(), UploadRequest{
		OwnerID:      p.UserID,
		SessionToken: p.Token,
		Filename:     filename,
		Content:      strings.NewReader(content),
	})
	if err != nil {
		t.Fatalf("upload of %s failed: %v", filename, err)
	}
	return res.File
}
