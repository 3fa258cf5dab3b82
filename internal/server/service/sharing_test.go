package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestPublish(t *testing.T) {
	f := newFixture(t)
	alice := f.signup(t, "Alice")
	bob := f.signup(t, "Bob")
	ctx := context.Background()
	rec := f.upload(t, alice, "report.pdf", "content")

	t.Run("first publish", func(t *testing.T) {
		res, err := f.sharing.Publish(ctx, alice, rec.FileName)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res != NowPublic {
			t.Errorf("expected NowPublic, got %s", res)
		}
	})

	t.Run("second publish", func(t *testing.T) {
		res, err := f.sharing.Publish(ctx, alice, rec.FileName)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res != AlreadyPublic {
			t.Errorf("expected AlreadyPublic, got %s", res)
		}
		if n := len(f.repo.snapshot().links); n != 1 {
			t.Errorf("expected 1 link, got %d", n)
		}
	})

	t.Run("link records publisher", func(t *testing.T) {
		link, err := f.repo.GetLinkByPath(ctx, rec.FilePath)
		if err != nil {
			t.Fatalf("link missing: %v", err)
		}
		if link.PublishedBy != "Alice" || link.FileID != rec.ID || link.OwnerID != alice.UserID {
			t.Errorf("unexpected link %+v", link)
		}
	})

	t.Run("foreign file", func(t *testing.T) {
		if _, err := f.sharing.Publish(ctx, bob, rec.FileName); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("guest", func(t *testing.T) {
		guest, _ := f.auth.Login(ctx, "", "")
		if _, err := f.sharing.Publish(ctx, guest, rec.FileName); !errors.Is(err, ErrGuestNotAllowed) {
			t.Fatalf("expected ErrGuestNotAllowed, got %v", err)
		}
	})

	t.Run("invalid name", func(t *testing.T) {
		for _, name := range []string{"", "..", "a/b.pdf", `a\b.pdf`} {
			if _, err := f.sharing.Publish(ctx, alice, name); !errors.Is(err, ErrNotFound) {
				t.Errorf("%q: expected ErrNotFound, got %v", name, err)
			}
		}
	})

	t.Run("deleted file", func(t *testing.T) {
		other := f.upload(t, alice, "other.pdf", "x")
		if _, err := f.registry.SoftDelete(ctx, alice.UserID, other.FileName); err != nil {
			t.Fatal(err)
		}
		if _, err := f.sharing.Publish(ctx, alice, other.FileName); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestDownload(t *testing.T) {
	f := newFixture(t)
	alice := f.signup(t, "Alice")
	bob := f.signup(t, "Bob")
	ctx := context.Background()
	content := "shared quarterly numbers"
	rec := f.upload(t, alice, "report.pdf", content)
	target := DownloadTarget{OwnerID: alice.UserID, StorageName: rec.FileName}

	t.Run("not published", func(t *testing.T) {
		if _, err := f.sharing.Download(ctx, bob, target); !errors.Is(err, ErrNotPublic) {
			t.Fatalf("expected ErrNotPublic, got %v", err)
		}
		if f.repo.downloadCount() != 0 {
			t.Error("expected no download record")
		}
	})

	if _, err := f.sharing.Publish(ctx, alice, rec.FileName); err != nil {
		t.Fatal(err)
	}

	t.Run("published", func(t *testing.T) {
		att, err := f.sharing.Download(ctx, bob, target)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer att.Content.Close()

		data, err := io.ReadAll(att.Content)
		if err != nil {
			t.Fatal(err)
		}
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != rec.FileHash {
			t.Error("downloaded content does not match recorded hash")
		}
		if att.Filename != "report.pdf" || att.Size != int64(len(content)) {
			t.Errorf("unexpected attachment %q / %d", att.Filename, att.Size)
		}

		downloads := f.repo.snapshot().downloads
		if len(downloads) != 1 {
			t.Fatalf("expected 1 download record, got %d", len(downloads))
		}
		if downloads[0].UserID != bob.UserID || downloads[0].FileID != rec.ID {
			t.Errorf("unexpected download record %+v", downloads[0])
		}
	})

	t.Run("unknown owner", func(t *testing.T) {
		_, err := f.sharing.Download(ctx, bob, DownloadTarget{OwnerID: uuid.New(), StorageName: rec.FileName})
		if !errors.Is(err, ErrNotPublic) {
			t.Fatalf("expected ErrNotPublic, got %v", err)
		}
	})

	t.Run("traversal", func(t *testing.T) {
		_, err := f.sharing.Download(ctx, bob, DownloadTarget{OwnerID: alice.UserID, StorageName: "../" + rec.FileName})
		if !errors.Is(err, ErrNotPublic) {
			t.Fatalf("expected ErrNotPublic, got %v", err)
		}
	})

	t.Run("still downloadable after delete", func(t *testing.T) {
		if _, err := f.registry.SoftDelete(ctx, alice.UserID, rec.FileName); err != nil {
			t.Fatal(err)
		}
		att, err := f.sharing.Download(ctx, bob, target)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		att.Content.Close()
	})

	t.Run("record failure", func(t *testing.T) {
		before := f.repo.downloadCount()
		f.repo.failOn("CreateDownload", errors.New("connection reset"))
		defer f.repo.failOn("CreateDownload", nil)

		if _, err := f.sharing.Download(ctx, bob, target); !errors.Is(err, ErrStorageUnavailable) {
			t.Fatalf("expected ErrStorageUnavailable, got %v", err)
		}
		if f.repo.downloadCount() != before {
			t.Error("expected no new download record")
		}
	})
}

func TestDownloadDeferredForGuest(t *testing.T) {
	f := newFixture(t)
	alice := f.signup(t, "Alice")
	ctx := context.Background()
	rec := f.upload(t, alice, "report.pdf", "content")
	if _, err := f.sharing.Publish(ctx, alice, rec.FileName); err != nil {
		t.Fatal(err)
	}
	target := DownloadTarget{OwnerID: alice.UserID, StorageName: rec.FileName}

	for name, requester := range map[string]*Principal{
		"anonymous": nil,
		"guest":     {Name: "Guest", Token: GuestToken, Guest: true},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.sharing.Download(ctx, requester, target)

			var loginErr *LoginRequiredError
			if !errors.As(err, &loginErr) {
				t.Fatalf("expected LoginRequiredError, got %v", err)
			}
			if !errors.Is(err, ErrAuthentication) {
				t.Error("expected LoginRequiredError to match ErrAuthentication")
			}
			if f.repo.downloadCount() != 0 {
				t.Error("expected no download record before login")
			}

			carol := f.signup(t, "Carol"+name)
			att, err := f.sharing.Resume(ctx, carol, loginErr.ResumeToken)
			if err != nil {
				t.Fatalf("resume failed: %v", err)
			}
			att.Content.Close()

			downloads := f.repo.snapshot().downloads
			if last := downloads[len(downloads)-1]; last.UserID != carol.UserID {
				t.Errorf("expected download recorded for the logged-in user, got %s", last.UserID)
			}
		})
	}
}

func TestResumeRejectsBadTokens(t *testing.T) {
	f := newFixture(t)
	alice := f.signup(t, "Alice")
	ctx := context.Background()

	sign := func(secret string, claims resumeClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	valid := resumeClaims{
		Owner: alice.UserID.String(),
		Name:  "reportaaaaaaaaaaaa.pdf",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   resumeSubject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	wrongSubject := valid
	wrongSubject.Subject = "session"
	noExpiry := valid
	noExpiry.ExpiresAt = nil
	badOwner := valid
	badOwner.Owner = "not-a-uuid"

	tests := map[string]string{
		"garbage":       "not.a.token",
		"wrong secret":  sign("other-secret", valid),
		"expired":       sign(f.cfg.ResumeSecret, expired),
		"wrong subject": sign(f.cfg.ResumeSecret, wrongSubject),
		"no expiry":     sign(f.cfg.ResumeSecret, noExpiry),
		"bad owner":     sign(f.cfg.ResumeSecret, badOwner),
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := f.sharing.Resume(ctx, alice, token); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestNewSharingServiceEphemeralSecret(t *testing.T) {
	cfg := testConfig()
	cfg.ResumeSecret = ""

	s, err := NewSharingService(newMemRepo(), nil, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.secret) != 32 {
		t.Errorf("expected a 32-byte random secret, got %d bytes", len(s.secret))
	}
}
