package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func newUserTestRouter(got *uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireUser())
	r.GET("/whoami", func(c *gin.Context) {
		id, ok := UserID(c)
		if ok && got != nil {
			*got = id
		}
		c.Status(http.StatusOK)
	})
	return r
}

func TestRequireUserMissingHeader(t *testing.T) {
	r := newUserTestRouter(nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status: want=%d got=%d", http.StatusUnauthorized, w.Code)
	}
}

func TestRequireUserInvalidHeader(t *testing.T) {
	r := newUserTestRouter(nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-User-ID", "not-a-uuid")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status: want=%d got=%d", http.StatusUnauthorized, w.Code)
	}
}

func TestRequireUserResolvesOwner(t *testing.T) {
	var got uuid.UUID
	r := newUserTestRouter(&got)
	want := uuid.New()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-User-ID", want.String())
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: want=%d got=%d", http.StatusOK, w.Code)
	}
	if got != want {
		t.Fatalf("owner id: want=%s got=%s", want, got)
	}
}
