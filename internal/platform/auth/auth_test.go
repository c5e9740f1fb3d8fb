package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func apiRouter(apiKey string, secret []byte) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireAPIAccess(apiKey, secret))
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(CtxSubjectKey)) })
	return r
}

func do(r http.Handler, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAPIAccessOpenWhenUnconfigured(t *testing.T) {
	if w := do(apiRouter("", nil), "", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRequireAPIAccessAPIKey(t *testing.T) {
	r := apiRouter("s3cret", nil)
	if w := do(r, HeaderAPIKey, "s3cret"); w.Code != http.StatusOK {
		t.Errorf("valid key: status = %d", w.Code)
	}
	if w := do(r, HeaderAPIKey, "nope"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d", w.Code)
	}
	if w := do(r, "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("missing: status = %d", w.Code)
	}
}

func TestRequireAPIAccessBearer(t *testing.T) {
	secret := []byte("jwt-secret")
	r := apiRouter("", secret)

	tok, err := IssueToken(secret, "erp", "client", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	w := do(r, "Authorization", "Bearer "+tok)
	if w.Code != http.StatusOK || w.Body.String() != "erp" {
		t.Fatalf("status = %d body = %q", w.Code, w.Body.String())
	}

	expired, _ := IssueToken(secret, "erp", "", time.Minute, time.Now().Add(-time.Hour))
	if w := do(r, "Authorization", "Bearer "+expired); w.Code != http.StatusUnauthorized {
		t.Errorf("expired: status = %d", w.Code)
	}

	other, _ := IssueToken([]byte("other"), "erp", "", time.Hour, time.Now())
	if w := do(r, "Authorization", "Bearer "+other); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: status = %d", w.Code)
	}

	if w := do(r, "Authorization", "Basic abc"); w.Code != http.StatusUnauthorized {
		t.Errorf("basic: status = %d", w.Code)
	}
}

func TestParseTokenRejectsOtherAlgorithms(t *testing.T) {
	secret := []byte("jwt-secret")
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "x"}).SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := ParseToken(secret, tok); err == nil {
		t.Fatal("HS512 token accepted")
	}

	noSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "x"}).SignedString(secret)
	if _, _, err := ParseToken(secret, noSub); err == nil {
		t.Fatal("token without sub accepted")
	}
}

func adminRouter(k AdminKey) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin/status", RequireAdminKey(k), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRequireAdminKey(t *testing.T) {
	w := httptest.NewRecorder()
	adminRouter(AdminKey{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/status", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unconfigured: status = %d", w.Code)
	}

	hash, err := HashAdminKey("letmein")
	if err != nil {
		t.Fatal(err)
	}
	for name, k := range map[string]AdminKey{"plain": {Plain: "letmein"}, "hash": {Hash: hash}} {
		r := adminRouter(k)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/status?key=letmein", nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s query: status = %d", name, w.Code)
		}

		req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
		req.Header.Set(HeaderAdminKey, "letmein")
		w = httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s header: status = %d", name, w.Code)
		}

		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/status?key=wrong", nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s wrong: status = %d", name, w.Code)
		}
	}
}
