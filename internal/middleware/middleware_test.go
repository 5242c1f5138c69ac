package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/logger"
)

type stubValidator struct {
	claims *models.JWTClaims
}

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return s.claims, nil
}

type recordingAuditWriter struct {
	logs []*models.AuditLog
}

func (r *recordingAuditWriter) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	r.logs = append(r.logs, log)
	return nil
}

func perform(router *gin.Engine, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestJWTMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	validator := stubValidator{claims: &models.JWTClaims{UserID: "u-kasun", Role: models.RoleStudent}}

	router := gin.New()
	router.GET("/me", JWT(validator), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(logger.ContextUserIDKey))
	})

	assert.Equal(t, http.StatusUnauthorized, perform(router, http.MethodGet, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, perform(router, http.MethodGet, "/me", "Token good").Code)
	assert.Equal(t, http.StatusUnauthorized, perform(router, http.MethodGet, "/me", "Bearer bad").Code)

	w := perform(router, http.MethodGet, "/me", "Bearer good")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-kasun", w.Body.String())
}

func TestOptionalJWTMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	validator := stubValidator{claims: &models.JWTClaims{UserID: "u-kasun", Role: models.RoleStudent}}

	router := gin.New()
	router.GET("/programs", OptionalJWT(validator), func(c *gin.Context) {
		_, ok := c.Get(ContextUserKey)
		if ok {
			c.Status(http.StatusOK)
			return
		}
		c.Status(http.StatusNoContent)
	})

	assert.Equal(t, http.StatusNoContent, perform(router, http.MethodGet, "/programs", "").Code)
	assert.Equal(t, http.StatusNoContent, perform(router, http.MethodGet, "/programs", "Bearer bad").Code)
	assert.Equal(t, http.StatusOK, perform(router, http.MethodGet, "/programs", "Bearer good").Code)
}

func TestRBACMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	withClaims := func(claims *models.JWTClaims) gin.HandlerFunc {
		return func(c *gin.Context) {
			if claims != nil {
				c.Set(ContextUserKey, claims)
			}
			c.Next()
		}
	}
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }

	cases := []struct {
		name   string
		claims *models.JWTClaims
		path   string
		want   int
	}{
		{name: "admin allowed", claims: &models.JWTClaims{UserID: "u-admin", Role: models.RoleAdmin}, path: "/users/u-kasun", want: http.StatusOK},
		{name: "self allowed", claims: &models.JWTClaims{UserID: "u-kasun", Role: models.RoleStudent}, path: "/users/u-kasun", want: http.StatusOK},
		{name: "other student forbidden", claims: &models.JWTClaims{UserID: "u-nimali", Role: models.RoleStudent}, path: "/users/u-kasun", want: http.StatusForbidden},
		{name: "anonymous unauthorized", path: "/users/u-kasun", want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/users/:id", withClaims(tc.claims), RBAC(string(models.RoleAdmin), SelfAccess), ok)
			assert.Equal(t, tc.want, perform(router, http.MethodGet, tc.path, "").Code)
		})
	}

	router := gin.New()
	router.GET("/roster", withClaims(&models.JWTClaims{Role: models.RoleLecturer}), RequireRoles(models.RoleAdmin, models.RoleLecturer), ok)
	assert.Equal(t, http.StatusOK, perform(router, http.MethodGet, "/roster", "").Code)
}

func TestAuditMiddlewareRecordsSuccessOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	writer := &recordingAuditWriter{}

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "u-admin", Role: models.RoleAdmin})
		c.Next()
	})
	router.DELETE("/programs/:id", Audit(writer, "PROGRAM_DELETE", "degree_programs"), func(c *gin.Context) {
		if c.Param("id") == "missing" {
			c.Status(http.StatusNotFound)
			return
		}
		c.Status(http.StatusNoContent)
	})

	perform(router, http.MethodDelete, "/programs/p-msgis", "")
	perform(router, http.MethodDelete, "/programs/missing", "")

	require.Len(t, writer.logs, 1)
	log := writer.logs[0]
	assert.Equal(t, "PROGRAM_DELETE", log.Action)
	require.NotNil(t, log.ResourceID)
	assert.Equal(t, "p-msgis", *log.ResourceID)
	require.NotNil(t, log.UserID)
	assert.Equal(t, "u-admin", *log.UserID)
}

func TestResponseMetaCacheHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(WithResponseMeta())
	router.GET("/programs", func(c *gin.Context) {
		SetCacheHit(c, true)
		meta := ExtractMeta(c)
		c.JSON(http.StatusOK, meta)
	})

	w := perform(router, http.MethodGet, "/programs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cache_hit":true`)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
}

func TestResponseMetaWithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/programs", func(c *gin.Context) {
		SetCacheHit(c, false)
		c.JSON(http.StatusOK, gin.H{"meta": ExtractMeta(c)})
	})

	w := perform(router, http.MethodGet, "/programs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"meta":null}`, w.Body.String())
	assert.Empty(t, w.Header().Get("X-Cache"))
}

type recordingObserver struct {
	routes []string
}

func (r *recordingObserver) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	r.routes = append(r.routes, method+" "+path)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &recordingObserver{}
	router := gin.New()
	router.Use(Metrics(observer, "/health"))
	router.GET("/programs/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	perform(router, http.MethodGet, "/programs/p-msgis", "")
	perform(router, http.MethodGet, "/health", "")
	perform(router, http.MethodGet, "/nope/123", "")

	assert.Equal(t, []string{"GET /programs/:id", "GET unmatched"}, observer.routes)
}
