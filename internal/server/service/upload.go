package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jaevor/go-nanoid"

	"fileshare/internal/server/config"
	"fileshare/internal/server/database"
	"fileshare/internal/server/storage"
)

const (
	suffixAlphabet  = "abcdefghijklmnopqrstuvwxyz"
	minSuffixLength = 12
	maxSuffixLength = 15

	maxNameLength        = 255 // runes kept of the original filename
	maxStorageNameLength = 255 // bytes, the common filesystem limit
)

// UploadRequest is one incoming file.
type UploadRequest struct {
	OwnerID      uuid.UUID // must match the session's user when set
	SessionToken string
	Filename     string
	// Extension overrides the one taken from Filename. Filename must still
	// contain a dot.
	Extension      string
	Content        io.ReadSeeker
	DeclaredLength int64 // informational; the stream is measured
}

// UploadResult is returned after a successful upload.
type UploadResult struct {
	File      *database.FileRecord
	UsedBytes int64
}

// UploadService validates, stores and records uploads.
type UploadService struct {
	repo    Repository
	store   storage.Store
	auth    *AuthService
	ledger  *Ledger
	cfg     *config.Config
	suffix  func() (string, error)
	timeout time.Duration
}

// NewUploadService creates a new upload service.
func NewUploadService(repo Repository, store storage.Store, auth *AuthService, ledger *Ledger, cfg *config.Config) *UploadService {
	return &UploadService{
		repo:    repo,
		store:   store,
		auth:    auth,
		ledger:  ledger,
		cfg:     cfg,
		suffix:  randomSuffix,
		timeout: cfg.StoreTimeout,
	}
}

// Upload runs the upload pipeline: authenticate, validate type and measured
// size, check quota, write the bytes, hash them, then insert the record and
// bump the quota counter in one transaction. If anything fails after the
// write, the written file is removed before the error is returned.
func (s *UploadService) Upload(ctx context.Context, req UploadRequest) (result *UploadResult, err error) {
	defer func() { uploadsTotal.WithLabelValues(outcome(err)).Inc() }()

	// 1. Authenticate
	principal, err := s.auth.Resolve(ctx, req.SessionToken)
	if err != nil {
		return nil, err
	}
	if principal.Guest {
		return nil, ErrGuestNotAllowed
	}
	if req.OwnerID != uuid.Nil && req.OwnerID != principal.UserID {
		return nil, fmt.Errorf("%w: session does not belong to owner", ErrAuthentication)
	}

	// 2. Validate name and extension
	displayName := baseName(req.Filename)
	if strings.Trim(displayName, ".") == "" {
		return nil, ErrEmptyFilename
	}
	if !utf8.ValidString(displayName) || strings.ContainsRune(displayName, 0) {
		return nil, ErrInvalidFilename
	}
	displayName = truncateName(displayName, maxNameLength)
	ext, err := s.extension(displayName, req.Extension)
	if err != nil {
		return nil, err
	}

	// 3. Measure the actual stream
	size, err := req.Content.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to measure upload: %v", ErrStorage, err)
	}
	if size > s.cfg.MaxFileSize {
		return nil, &FileTooLargeError{Limit: s.cfg.MaxFileSize}
	}
	if req.DeclaredLength > 0 && req.DeclaredLength != size {
		slog.Warn("declared upload length differs from content",
			"user_id", principal.UserID,
			"declared", req.DeclaredLength,
			"measured", size,
		)
	}

	// 4. Quota pre-check, so a rejected upload never touches storage
	if err := s.checkQuota(ctx, principal.UserID, size); err != nil {
		return nil, err
	}

	// 5. Unique storage name
	storageName, err := s.storageName(displayName, ext)
	if err != nil {
		return nil, err
	}
	key := storage.Key(principal.UserID.String(), storageName)

	// 6. Persist bytes
	if _, err := req.Content.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: failed to rewind upload: %v", ErrStorage, err)
	}
	written, err := s.store.Save(ctx, key, req.Content)
	if err != nil {
		if errors.Is(err, storage.ErrObjectExists) {
			return nil, fmt.Errorf("%w: storage name collision for %s", ErrStorage, storageName)
		}
		return nil, fmt.Errorf("%w: failed to store file: %v", ErrStorage, err)
	}
	if written != size {
		s.discard(ctx, key)
		return nil, fmt.Errorf("%w: wrote %d of %d bytes", ErrStorage, written, size)
	}

	// 7. Hash the full content from the start
	fileHash, err := hashContent(req.Content)
	if err != nil {
		s.discard(ctx, key)
		return nil, fmt.Errorf("%w: failed to hash upload: %v", ErrStorage, err)
	}

	// 8. Record and account atomically
	record := &database.FileRecord{
		ID:               uuid.New(),
		UserID:           principal.UserID,
		OriginalFileName: displayName,
		FileName:         storageName,
		FileType:         ext,
		FileHash:         fileHash,
		FileSize:         size,
		FilePath:         s.store.Locate(key),
		IsActive:         true,
		CreatedAt:        time.Now().UTC(),
	}

	var total int64
	dbCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	err = s.repo.InTx(dbCtx, func(ctx context.Context) error {
		if err := s.repo.CreateFile(ctx, record); err != nil {
			return err
		}
		var err error
		total, err = s.ledger.Reserve(ctx, principal.UserID, size)
		return err
	})
	if err != nil {
		s.discard(ctx, key)
		switch {
		case errors.Is(err, ErrQuotaExceeded):
			return nil, ErrQuotaExceeded
		case errors.Is(err, database.ErrDuplicate):
			return nil, fmt.Errorf("%w: storage path already recorded", ErrStorage)
		case errors.Is(err, ErrStorageUnavailable), errors.Is(err, ErrStorage):
			return nil, err
		default:
			return nil, commitFailure(err)
		}
	}

	uploadedBytesTotal.Add(float64(size))
	slog.Info("upload processed",
		"user_id", principal.UserID,
		"file_id", record.ID,
		"storage_name", storageName,
		"size", size,
		"used_bytes", total,
		"hash", fileHash,
	)

	return &UploadResult{File: record, UsedBytes: total}, nil
}

func (s *UploadService) checkQuota(ctx context.Context, userID uuid.UUID, size int64) error {
	dbCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.ledger.Check(dbCtx, userID, size)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrQuotaExceeded), errors.Is(err, ErrAuthentication), errors.Is(err, ErrValidation):
		return err
	default:
		return unavailable(err)
	}
}

// extension returns the lower-cased extension if it is allowed. A name
// without a dot is always rejected.
func (s *UploadService) extension(filename, override string) (string, error) {
	dot := strings.LastIndex(filename, ".")
	if dot < 0 || dot == len(filename)-1 {
		return "", s.unsupported()
	}

	ext := strings.ToLower(filename[dot+1:])
	if override != "" {
		ext = strings.ToLower(strings.TrimPrefix(override, "."))
	}
	if !s.cfg.AllowedExtensions[ext] {
		return "", s.unsupported()
	}
	return ext, nil
}

func (s *UploadService) unsupported() error {
	allowed := make([]string, 0, len(s.cfg.AllowedExtensions))
	for ext := range s.cfg.AllowedExtensions {
		allowed = append(allowed, ext)
	}
	sort.Strings(allowed)
	return &UnsupportedTypeError{Allowed: allowed}
}

// storageName is the sanitised stem, a random lowercase suffix and the
// normalised extension: "report" + "qhxkzmwpaeyt" + ".pdf". A stem with
// nothing left after sanitising becomes "file".
func (s *UploadService) storageName(filename, ext string) (string, error) {
	stem := sanitizeFilename(filename[:strings.LastIndex(filename, ".")])
	if stem == "" {
		stem = "file"
	}
	if limit := maxStorageNameLength - maxSuffixLength - 1 - len(ext); len(stem) > limit {
		stem = stem[:limit]
	}

	suffix, err := s.suffix()
	if err != nil {
		return "", fmt.Errorf("%w: failed to generate storage name: %v", ErrStorage, err)
	}
	return stem + suffix + "." + ext, nil
}

// discard removes a written file after a failed commit. It runs detached
// from ctx so an abandoned request still cleans up.
func (s *UploadService) discard(ctx context.Context, key string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		slog.Error("failed to remove uncommitted upload", "key", key, "error", err)
	}
}

// --- Helpers ---

// randomSuffix returns 12 to 15 random lowercase letters.
func randomSuffix() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxSuffixLength-minSuffixLength+1))
	if err != nil {
		return "", fmt.Errorf("crypto/rand failure: %w", err)
	}
	gen, err := nanoid.CustomASCII(suffixAlphabet, minSuffixLength+int(n.Int64()))
	if err != nil {
		return "", err
	}
	return gen(), nil
}

func hashContent(r io.ReadSeeker) (string, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// baseName strips directory components, including Windows-style ones.
func baseName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// truncateName shortens name to limit runes, keeping its extension.
func truncateName(name string, limit int) string {
	runes := []rune(name)
	if len(runes) <= limit {
		return name
	}
	ext := []rune(filepath.Ext(name))
	if len(ext) >= limit {
		return string(runes[:limit])
	}
	return string(runes[:limit-len(ext)]) + string(ext)
}

// sanitizeFilename keeps the base name and reduces it to ASCII letters,
// digits, '-', '_' and '.', with whitespace turned into '_' and leading or
// trailing dots and underscores removed. The result may be empty.
func sanitizeFilename(name string) string {
	name = baseName(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r == ' ' || r == '\t':
			b.WriteByte('_')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		}
	}
	name = strings.Trim(b.String(), "._")

	// Leave room for the random suffix.
	const maxLen = 255 - maxSuffixLength
	if len(name) > maxLen {
		ext := filepath.Ext(name)
		if len(ext) >= maxLen {
			ext = ""
		}
		name = name[:maxLen-len(ext)] + ext
	}

	return name
}
