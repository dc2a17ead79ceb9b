package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubValidator struct {
	id  uuid.UUID
	err error
}

func (s *stubValidator) ValidateToken(string) (uuid.UUID, error) { return s.id, s.err }

type stubAdmin struct{ key string }

func (s *stubAdmin) CheckAdminKey(key string) error {
	if key != s.key {
		return errors.New("bad key")
	}
	return nil
}

// okHandler writes 200 and the account id (for assertions).
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if id := AccountIDFromCtx(r.Context()); id != uuid.Nil {
		w.Write([]byte(id.String()))
	}
	w.WriteHeader(http.StatusOK)
})

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestBearerAuth_ValidToken(t *testing.T) {
	acct := uuid.New()
	mw := BearerAuth(&stubValidator{id: acct})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := rec.Body.String(); body != acct.String() {
		t.Errorf("expected account id %q in body, got %q", acct, body)
	}
}

func TestBearerAuth_MissingHeader(t *testing.T) {
	mw := BearerAuth(&stubValidator{id: uuid.New()})(okHandler)

	cases := []struct {
		name   string
		header string
	}{
		{"no header at all", ""},
		{"empty bearer", "Bearer "},
		{"wrong scheme", "Basic abc123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			mw.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestBearerAuth_InvalidToken(t *testing.T) {
	mw := BearerAuth(&stubValidator{err: errors.New("expired")})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer stale")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdminKey(t *testing.T) {
	mw := AdminKey(&stubAdmin{key: "op"})(okHandler)

	for _, tc := range []struct {
		key  string
		want int
	}{
		{"op", http.StatusOK},
		{"", http.StatusForbidden},
		{"guess", http.StatusForbidden},
	} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if tc.key != "" {
			req.Header.Set("X-Admin-Key", tc.key)
		}
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("key %q: expected %d, got %d", tc.key, tc.want, rec.Code)
		}
	}
}
