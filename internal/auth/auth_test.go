package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenRoundTrip(t *testing.T) {
	h := NewJWTHandler(testSecret, time.Hour)

	token, err := h.GenerateAccessToken("hmi-1", RoleTechnician)
	require.NoError(t, err)

	claims, err := h.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "hmi-1", claims.Subject)
	assert.Equal(t, "technician", claims.Role)

	_, err = h.GenerateAccessToken("x", Role("root"))
	assert.Error(t, err)
}

func TestTokenRejected(t *testing.T) {
	h := NewJWTHandler(testSecret, time.Minute)
	token, err := h.GenerateAccessToken("hmi-1", RoleOperator)
	require.NoError(t, err)

	other := NewJWTHandler("another-secret-another-secret-xx", time.Minute)
	_, err = other.ValidateAccessToken(token)
	assert.Error(t, err)

	h.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = h.ValidateAccessToken(token)
	assert.Error(t, err, "expired")
}

func TestRolePermissions(t *testing.T) {
	assert.Equal(t, []Permission{PermOperator}, RoleOperator.Permissions())
	assert.Contains(t, RoleAdmin.Permissions(), PermTechnician)
	assert.Nil(t, Role("guest").Permissions())
}

func newRouter(a *Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(a.Middleware())
	r.GET("/read", RequirePermission(PermOperator), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/write", RequirePermission(PermTechnician), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestMiddleware(t *testing.T) {
	h := NewJWTHandler(testSecret, time.Hour)
	operator, err := h.GenerateAccessToken("panel", RoleOperator)
	require.NoError(t, err)
	technician, err := h.GenerateAccessToken("laptop", RoleTechnician)
	require.NoError(t, err)

	r := newRouter(NewAuthenticator(h, true, zap.NewNop()))

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"no token", http.MethodGet, "/read", "", http.StatusUnauthorized},
		{"bad scheme", http.MethodGet, "/read", "Basic abc", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/read", "Bearer abc", http.StatusUnauthorized},
		{"operator reads", http.MethodGet, "/read", "Bearer " + operator, http.StatusOK},
		{"operator cannot write", http.MethodPost, "/write", "Bearer " + operator, http.StatusForbidden},
		{"technician writes", http.MethodPost, "/write", "Bearer " + technician, http.StatusOK},
		{"query token", http.MethodGet, "/read?token=" + operator, "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestDisabledAuthenticatorAllowsAll(t *testing.T) {
	r := newRouter(NewAuthenticator(nil, false, zap.NewNop()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/write", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
