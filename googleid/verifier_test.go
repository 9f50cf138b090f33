package googleid

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func newTestVerifier(t *testing.T, info map[string]string, status int) *Verifier {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id_token") == "" {
			t.Error("expected id_token query parameter")
		}
		w.WriteHeader(status)
		if status == http.StatusOK {
			if err := json.NewEncoder(w).Encode(info); err != nil {
				t.Errorf("encode tokeninfo: %v", err)
			}
		}
	}))
	t.Cleanup(srv.Close)

	v, err := New("client-id-123", WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return v
}

func validInfo() map[string]string {
	return map[string]string{
		"aud":            "client-id-123",
		"sub":            "google-sub-9",
		"email":          "dave@example.com",
		"email_verified": "true",
		"name":           "Dave",
		"exp":            strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10),
	}
}

func TestVerifyIDToken(t *testing.T) {
	v := newTestVerifier(t, validInfo(), http.StatusOK)

	profile, err := v.VerifyIDToken(context.Background(), "opaque-token")
	if err != nil {
		t.Fatalf("VerifyIDToken error: %v", err)
	}
	if profile.ID != "google-sub-9" || profile.Email != "dave@example.com" || profile.DisplayName != "Dave" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if !profile.EmailVerified {
		t.Fatal("expected verified email")
	}
}

func TestVerifyIDTokenAudienceMismatch(t *testing.T) {
	info := validInfo()
	info["aud"] = "someone-elses-client"
	v := newTestVerifier(t, info, http.StatusOK)

	if _, err := v.VerifyIDToken(context.Background(), "opaque-token"); !errors.Is(err, ErrInvalidIdentityToken) {
		t.Fatalf("expected ErrInvalidIdentityToken, got %v", err)
	}
}

func TestVerifyIDTokenExpired(t *testing.T) {
	info := validInfo()
	info["exp"] = strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10)
	v := newTestVerifier(t, info, http.StatusOK)

	if _, err := v.VerifyIDToken(context.Background(), "opaque-token"); !errors.Is(err, ErrInvalidIdentityToken) {
		t.Fatalf("expected ErrInvalidIdentityToken, got %v", err)
	}
}

func TestVerifyIDTokenRejectedUpstream(t *testing.T) {
	v := newTestVerifier(t, nil, http.StatusBadRequest)

	if _, err := v.VerifyIDToken(context.Background(), "forged-token"); !errors.Is(err, ErrInvalidIdentityToken) {
		t.Fatalf("expected ErrInvalidIdentityToken, got %v", err)
	}
}

func TestVerifyIDTokenMissingSubject(t *testing.T) {
	info := validInfo()
	delete(info, "sub")
	v := newTestVerifier(t, info, http.StatusOK)

	if _, err := v.VerifyIDToken(context.Background(), "opaque-token"); !errors.Is(err, ErrInvalidIdentityToken) {
		t.Fatalf("expected ErrInvalidIdentityToken, got %v", err)
	}
}

func TestVerifyIDTokenEmpty(t *testing.T) {
	v := newTestVerifier(t, validInfo(), http.StatusOK)

	if _, err := v.VerifyIDToken(context.Background(), ""); !errors.Is(err, ErrInvalidIdentityToken) {
		t.Fatalf("expected ErrInvalidIdentityToken for empty token, got %v", err)
	}
}

func TestNewRequiresAudience(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected missing audience to be rejected")
	}
}

func TestUnverifiedEmailFlag(t *testing.T) {
	info := validInfo()
	info["email_verified"] = "false"
	v := newTestVerifier(t, info, http.StatusOK)

	profile, err := v.VerifyIDToken(context.Background(), "opaque-token")
	if err != nil {
		t.Fatalf("VerifyIDToken error: %v", err)
	}
	if profile.EmailVerified {
		t.Fatal("expected unverified email flag to carry through")
	}
}
