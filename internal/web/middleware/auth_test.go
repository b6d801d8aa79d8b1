package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func protected(a *Authenticator, roles ...string) http.Handler {
	return RequireRole(a, roles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c := GetClaimsFromContext(r.Context()); c != nil {
			w.Header().Set("X-Subject", c.Subject)
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestNewAuthenticator_EmptySecretDisables(t *testing.T) {
	a := NewAuthenticator("")
	if a.Enabled() {
		t.Fatal("expected disabled authenticator")
	}
	if _, err := a.GenerateToken("kiosk-1", "kiosk", time.Hour); err == nil {
		t.Error("expected error minting without secret")
	}

	w := httptest.NewRecorder()
	protected(a, "admin").ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected passthrough when disabled, got %d", w.Code)
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	a := NewAuthenticator("test-secret")
	token, err := a.GenerateToken("kiosk-1", "kiosk", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := a.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Subject != "kiosk-1" || claims.Role != "kiosk" || claims.Issuer != Issuer {
		t.Errorf("unexpected claims %+v", claims)
	}

	if _, err := NewAuthenticator("other-secret").ValidateToken(token); err == nil {
		t.Error("expected signature error with a different secret")
	}
}

func TestValidateToken_Expired(t *testing.T) {
	a := NewAuthenticator("test-secret")
	claims := Claims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.ValidateToken(token); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestRequireRole(t *testing.T) {
	a := NewAuthenticator("test-secret")
	admin, _ := a.GenerateToken("ops", "admin", time.Hour)
	kiosk, _ := a.GenerateToken("kiosk-1", "kiosk", 0)

	tests := []struct {
		name   string
		header string
		roles  []string
		want   int
	}{
		{"no header", "", []string{"admin"}, http.StatusUnauthorized},
		{"wrong scheme", "Basic " + admin, []string{"admin"}, http.StatusUnauthorized},
		{"garbage token", "Bearer abc.def.ghi", []string{"admin"}, http.StatusUnauthorized},
		{"admin allowed", "Bearer " + admin, []string{"admin"}, http.StatusOK},
		{"kiosk forbidden on admin route", "Bearer " + kiosk, []string{"admin"}, http.StatusForbidden},
		{"kiosk allowed on verify route", "bearer " + kiosk, []string{"admin", "kiosk"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			protected(a, tt.roles...).ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestRequireRole_SetsClaims(t *testing.T) {
	a := NewAuthenticator("test-secret")
	token, _ := a.GenerateToken("kiosk-7", "kiosk", time.Hour)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	protected(a, "kiosk").ServeHTTP(w, req)

	if w.Header().Get("X-Subject") != "kiosk-7" {
		t.Errorf("expected claims in context, got subject %q", w.Header().Get("X-Subject"))
	}
}

func TestGetClaimsFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if GetClaimsFromContext(req.Context()) != nil {
		t.Error("expected nil claims")
	}
}
