package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/handlers"
	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/storage"
	"github.com/3Eeeecho/go-filevault/internal/pkg/testutil"
	"github.com/3Eeeecho/go-filevault/internal/pkg/utils"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-filevault/internal/repositories"
	"github.com/3Eeeecho/go-filevault/internal/router"
	"github.com/3Eeeecho/go-filevault/internal/services/admin"
	"github.com/3Eeeecho/go-filevault/internal/services/audit"
	"github.com/3Eeeecho/go-filevault/internal/services/explorer"
	"github.com/3Eeeecho/go-filevault/internal/services/permission"
	"github.com/3Eeeecho/go-filevault/internal/services/share"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type nopRecorder struct{}

func (nopRecorder) Record(ctx context.Context, e audit.Event) {}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	engine *gin.Engine
	db     *gorm.DB
	cfg    *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Mode: gin.TestMode, BaseURL: "http://vault.test"},
		JWT:     config.JWTConfig{SecretKey: "test-secret", Issuer: "go-filevault", ExpiresIn: time.Hour},
		Storage: config.StorageConfig{Type: "memory", BucketName: "filevault", MaxFileSizeMB: 1},
		Share: config.ShareConfig{
			DefaultExpiryMinutes: 60,
			MinExpiryMinutes:     1,
			MaxExpiryMinutes:     43200,
			PasswordMinLength:    8,
			PasswordMinClasses:   3,
			CommitMaxAttempts:    3,
			TokenMintAttempts:    3,
		},
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := testConfig()
	db := testutil.NewTestDB(t)
	rec := nopRecorder{}

	files := repositories.NewDBFileRepository(db, time.Second)
	perms := repositories.NewPermissionRepository(db, time.Second)
	users := repositories.NewUserRepository(db, time.Second)
	shares := repositories.NewShareRepository(db, 5*time.Second, 3, nil)
	store := storage.NewMemoryStorageService()
	resolver := permission.NewResolver(files, perms, rec)
	purger := explorer.NewPurger(explorer.NewTransactionManager(db), store, cfg.BucketName())

	fileService := explorer.NewFileService(files, perms, users, shares, resolver, explorer.FileServiceDeps{
		Storage:  store,
		Purger:   purger,
		Recorder: rec,
		Config:   cfg,
	})
	shareService := share.NewShareService(shares, files, resolver, store, rec, nil, share.NewPolicy(cfg.Share), cfg)

	engine := router.InitRouter(&router.RouterConfig{
		AuthHandler:  handlers.NewAuthHandler(admin.NewAuthService(users, cfg)),
		UserHandler:  handlers.NewUserHandler(admin.NewUserService(users, rec)),
		FileHandler:  handlers.NewFileHandler(fileService, cfg),
		ShareHandler: handlers.NewShareHandler(shareService),
		AuditHandler: handlers.NewAuditHandler(audit.NewQueryService(repositories.NewAuditRepository(db, time.Second))),
		Config:       cfg,
	})
	return &testServer{engine: engine, db: db, cfg: cfg}
}

func (s *testServer) tokenFor(t *testing.T, u *models.User) string {
	t.Helper()
	token, err := utils.GenerateToken(u.ID, u.Username, u.Email, u.Role, s.cfg.JWT.SecretKey, s.cfg.JWT.Issuer, time.Hour)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(req *http.Request, bearer string) *httptest.ResponseRecorder {
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) doJSON(t *testing.T, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.do(req, bearer)
}

func (s *testServer) upload(t *testing.T, bearer, name string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.do(req, bearer)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// uploadAndShare 上传一个文件并创建分享链接，返回 token
func (s *testServer) uploadAndShare(t *testing.T, owner *models.User, shareReq map[string]any) string {
	t.Helper()
	bearer := s.tokenFor(t, owner)

	w := s.upload(t, bearer, "notes.txt", []byte("top secret notes"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var file models.File
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &file))

	shareReq["file_id"] = file.ID
	w = s.doJSON(t, http.MethodPost, "/api/v1/shares", shareReq, bearer)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created handlers.ShareResponse
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &created))
	require.NotEmpty(t, created.Token)
	assert.Equal(t, "http://vault.test/share/"+created.Token, created.ShareURL)
	return created.Token
}

func TestShareDownload_PasswordAndQuota(t *testing.T) {
	s := newTestServer(t)
	owner := testutil.SeedUser(t, s.db, models.RoleUser)
	token := s.uploadAndShare(t, owner, map[string]any{
		"max_downloads": 1,
		"password":      "Corr3ct-horse",
	})

	w := s.doJSON(t, http.MethodGet, "/share/"+token+"/info", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var info map[string]any
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &info))
	assert.Equal(t, "notes.txt", info["filename"])
	assert.Equal(t, true, info["has_password"])

	w = s.doJSON(t, http.MethodGet, "/share/"+token+"/download", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, xerr.SharePasswordRequiredCode, decode(t, w).Code)

	w = s.doJSON(t, http.MethodPost, "/share/"+token+"/download", map[string]any{"password": "wrong-Pass1"}, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, xerr.ShareAccessDeniedCode, decode(t, w).Code)

	// URL 中的密码直接拒绝，不消耗次数
	w = s.doJSON(t, http.MethodGet, "/share/"+token+"/download?password=Corr3ct-horse", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, xerr.InvalidParamsCode, decode(t, w).Code)

	// 密码放在请求体中
	w = s.doJSON(t, http.MethodPost, "/share/"+token+"/download", map[string]any{"password": "Corr3ct-horse"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "top secret notes", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), `attachment; filename="notes.txt"`)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	// 次数用完后与不存在的链接无法区分
	w = s.doJSON(t, http.MethodPost, "/share/"+token+"/download", map[string]any{"password": "Corr3ct-horse"}, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, xerr.ShareNotFoundCode, decode(t, w).Code)

	w = s.doJSON(t, http.MethodGet, "/share/"+token+"/info", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestShareDownload_UnknownAndMalformedTokensLookTheSame(t *testing.T) {
	s := newTestServer(t)

	for _, token := range []string{"short", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", "not*a*token"} {
		w := s.doJSON(t, http.MethodGet, "/share/"+token+"/download", nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code, token)
		assert.Equal(t, xerr.ShareNotFoundCode, decode(t, w).Code, token)
	}
}

func TestShareDownload_RequiresAuthAndAllowedPrincipal(t *testing.T) {
	s := newTestServer(t)
	owner := testutil.SeedUser(t, s.db, models.RoleUser)
	alice := testutil.SeedUser(t, s.db, models.RoleUser)
	bob := testutil.SeedUser(t, s.db, models.RoleUser)

	token := s.uploadAndShare(t, owner, map[string]any{
		"requires_auth":     true,
		"allowed_principal": alice.Email,
	})
	path := "/share/" + token + "/download"

	w := s.doJSON(t, http.MethodGet, path, nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, xerr.ShareAuthRequiredCode, decode(t, w).Code)

	// 带了无效 token 直接拒绝，不按匿名处理
	w = s.doJSON(t, http.MethodGet, path, nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, xerr.TokenInvalidCode, decode(t, w).Code)

	w = s.doJSON(t, http.MethodGet, path, nil, s.tokenFor(t, bob))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.doJSON(t, http.MethodGet, path, nil, s.tokenFor(t, alice))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "top secret notes", w.Body.String())
}

func TestCreateShare_ValidationReasons(t *testing.T) {
	s := newTestServer(t)
	owner := testutil.SeedUser(t, s.db, models.RoleUser)
	bearer := s.tokenFor(t, owner)

	w := s.upload(t, bearer, "a.txt", []byte("x"))
	require.Equal(t, http.StatusCreated, w.Code)
	var file models.File
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &file))

	w = s.doJSON(t, http.MethodPost, "/api/v1/shares", map[string]any{
		"file_id":            file.ID,
		"expires_in_minutes": 0,
		"max_downloads":      0,
		"password":           "short",
	}, bearer)
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode(t, w)
	assert.Equal(t, xerr.ValidationFailedCode, resp.Code)

	var data struct {
		Reasons []string `json:"reasons"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.GreaterOrEqual(t, len(data.Reasons), 3)
}

func TestRoutes_RoleGuards(t *testing.T) {
	s := newTestServer(t)
	viewer := testutil.SeedUser(t, s.db, models.RoleViewer)
	user := testutil.SeedUser(t, s.db, models.RoleUser)
	adminUser := testutil.SeedUser(t, s.db, models.RoleAdmin)

	w := s.upload(t, s.tokenFor(t, viewer), "v.txt", []byte("v"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.doJSON(t, http.MethodGet, "/api/v1/audit", nil, s.tokenFor(t, user))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.doJSON(t, http.MethodGet, "/api/v1/audit", nil, s.tokenFor(t, adminUser))
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.doJSON(t, http.MethodGet, "/api/v1/files", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.doJSON(t, http.MethodPut, fmt.Sprintf("/api/v1/users/%d/role", viewer.ID), map[string]any{"role": "user"}, s.tokenFor(t, adminUser))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.User
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &updated))
	assert.Equal(t, models.RoleUser, updated.Role)
}

func TestFileRoutes_DownloadAndDelete(t *testing.T) {
	s := newTestServer(t)
	owner := testutil.SeedUser(t, s.db, models.RoleUser)
	other := testutil.SeedUser(t, s.db, models.RoleUser)
	ownerBearer := s.tokenFor(t, owner)

	w := s.upload(t, ownerBearer, "plan.txt", []byte("the plan"))
	require.Equal(t, http.StatusCreated, w.Code)
	var file models.File
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &file))
	downloadPath := fmt.Sprintf("/api/v1/files/%d/download", file.ID)

	w = s.doJSON(t, http.MethodGet, downloadPath, nil, s.tokenFor(t, other))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/files/%d/permissions", file.ID), map[string]any{
		"email":        other.Email,
		"can_download": true,
	}, ownerBearer)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.doJSON(t, http.MethodGet, downloadPath, nil, s.tokenFor(t, other))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "the plan", w.Body.String())

	w = s.doJSON(t, http.MethodDelete, fmt.Sprintf("/api/v1/files/%d", file.ID), nil, ownerBearer)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.doJSON(t, http.MethodGet, downloadPath, nil, ownerBearer)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.doJSON(t, http.MethodGet, "/api/v1/files/abc", nil, ownerBearer)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func (s *testServer) seedAudit(t *testing.T, actor, action string, fileID uint64) {
	t.Helper()
	entry := &models.AuditLog{
		EventID:      uuid.NewString(),
		Actor:        actor,
		Action:       action,
		ResourceType: "share",
		ResourceID:   "1",
		Outcome:      models.AuditOutcomeSuccess,
		Timestamp:    time.Now().UTC(),
	}
	if fileID != 0 {
		entry.FileID = &fileID
	}
	require.NoError(t, s.db.Create(entry).Error)
}

type auditPage struct {
	Logs  []models.AuditLog `json:"logs"`
	Total int64             `json:"total"`
}

func TestAuditRoutes_MyActivityAndFileHistory(t *testing.T) {
	s := newTestServer(t)
	alice := testutil.SeedUser(t, s.db, models.RoleViewer)
	bob := testutil.SeedUser(t, s.db, models.RoleUser)
	adminUser := testutil.SeedUser(t, s.db, models.RoleAdmin)
	aliceActor := fmt.Sprintf("user:%d", alice.ID)
	bobActor := fmt.Sprintf("user:%d", bob.ID)

	s.seedAudit(t, aliceActor, models.AuditActionShareRedeem, 7)
	s.seedAudit(t, aliceActor, models.AuditActionFileDownload, 8)
	s.seedAudit(t, bobActor, models.AuditActionShareCreate, 7)
	s.seedAudit(t, "anonymous", models.AuditActionShareRedeem, 7)

	// 普通用户只能看到自己的记录，actor 参数被忽略
	w := s.doJSON(t, http.MethodGet, "/api/v1/audit/my-activity?actor="+bobActor, nil, s.tokenFor(t, alice))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var mine auditPage
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &mine))
	assert.EqualValues(t, 2, mine.Total)
	for _, l := range mine.Logs {
		assert.Equal(t, aliceActor, l.Actor)
	}

	w = s.doJSON(t, http.MethodGet, "/api/v1/audit/my-activity", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 文件历史聚合所有操作者的事件，仅管理员可查
	w = s.doJSON(t, http.MethodGet, "/api/v1/audit/file/7", nil, s.tokenFor(t, bob))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.doJSON(t, http.MethodGet, "/api/v1/audit/file/7", nil, s.tokenFor(t, adminUser))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var history auditPage
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &history))
	assert.EqualValues(t, 3, history.Total)
	for _, l := range history.Logs {
		require.NotNil(t, l.FileID)
		assert.EqualValues(t, 7, *l.FileID)
	}

	w = s.doJSON(t, http.MethodGet, "/api/v1/audit?file_id=8", nil, s.tokenFor(t, adminUser))
	require.Equal(t, http.StatusOK, w.Code)
	var byFilter auditPage
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &byFilter))
	assert.EqualValues(t, 1, byFilter.Total)

	w = s.doJSON(t, http.MethodGet, "/api/v1/audit?file_id=x", nil, s.tokenFor(t, adminUser))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
