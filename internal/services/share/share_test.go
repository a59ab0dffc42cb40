package share

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/metrics"
	"github.com/3Eeeecho/go-filevault/internal/pkg/sharetoken"
	"github.com/3Eeeecho/go-filevault/internal/pkg/storage"
	"github.com/3Eeeecho/go-filevault/internal/pkg/testutil"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-filevault/internal/repositories"
	"github.com/3Eeeecho/go-filevault/internal/services/audit"
	"github.com/3Eeeecho/go-filevault/internal/services/permission"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type captureRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureRecorder) Record(ctx context.Context, e audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureRecorder) byAction(action string) []audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []audit.Event
	for _, e := range c.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// countingShareRepo 统计对存储层的访问
type countingShareRepo struct {
	repositories.ShareRepository
	finds atomic.Int64
}

func (r *countingShareRepo) FindByToken(ctx context.Context, token string) (*models.ShareGrant, error) {
	r.finds.Add(1)
	return r.ShareRepository.FindByToken(ctx, token)
}

// brokenStorage 打开对象流总是失败
type brokenStorage struct {
	storage.StorageService
}

func (brokenStorage) GetObject(ctx context.Context, bucketName, objectName string) (storage.GetObjectResult, error) {
	return storage.GetObjectResult{}, xerr.ErrStorageUnavailable
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	db       *gorm.DB
	svc      ShareService
	repo     *countingShareRepo
	recorder *captureRecorder
	clock    *fakeClock
	metrics  *metrics.Metrics
	owner    *models.Principal
	file     *models.File
	store    *storage.MemoryStorageService
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{BaseURL: "https://vault.example.com/"},
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

var testPolicy = sync.OnceValue(func() *Policy { return NewPolicy(testConfig().Share) })

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	m := metrics.NewMetrics(prometheus.NewRegistry())

	user := testutil.SeedUser(t, db, models.RoleUser)
	file := testutil.SeedFile(t, db, user.ID, "report.txt")
	store := storage.NewMemoryStorageService()
	_, err := store.PutObject(context.Background(), *file.OssBucket, *file.OssKey, bytes.NewReader([]byte("hello")), 5, "text/plain")
	require.NoError(t, err)

	files := repositories.NewDBFileRepository(db, time.Second)
	repo := &countingShareRepo{ShareRepository: repositories.NewShareRepository(db, 5*time.Second, 3, m)}
	rec := &captureRecorder{}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	resolver := permission.NewResolver(files, repositories.NewPermissionRepository(db, time.Second), rec)

	opts = append([]Option{WithClock(clock.Now)}, opts...)
	svc := NewShareService(repo, files, resolver, store, rec, m, testPolicy(), testConfig(), opts...)

	return &fixture{
		db:       db,
		svc:      svc,
		repo:     repo,
		recorder: rec,
		clock:    clock,
		metrics:  m,
		owner:    &models.Principal{UserID: user.ID, Email: user.Email, Role: user.Role},
		file:     file,
		store:    store,
	}
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }
func strPtr(v string) *string { return &v }

func (f *fixture) create(t *testing.T, req CreateRequest) *models.ShareGrant {
	t.Helper()
	req.FileID = f.file.ID
	res, err := f.svc.CreateShare(context.Background(), f.owner, req)
	require.NoError(t, err)
	return res.Grant
}

func (f *fixture) count(t *testing.T, id uint64) int64 {
	t.Helper()
	var g models.ShareGrant
	require.NoError(t, f.db.First(&g, id).Error)
	return g.DownloadCount
}

func readAll(t *testing.T, dl *Download) string {
	t.Helper()
	defer dl.Reader.Close()
	b, err := io.ReadAll(dl.Reader)
	require.NoError(t, err)
	return string(b)
}

func denyReason(t *testing.T, err error) xerr.DenyReason {
	t.Helper()
	require.Error(t, err)
	reason, ok := xerr.DenyReasonOf(err)
	require.True(t, ok, "expected deny error, got %v", err)
	assert.ErrorIs(t, err, xerr.ErrShareDenied)
	return reason
}

func TestCreateShareReturnsLink(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CreateShare(context.Background(), f.owner, CreateRequest{
		FileID:           f.file.ID,
		ExpiresInMinutes: intPtr(30),
		MaxDownloads:     int64Ptr(3),
		Password:         strPtr("Str0ng!Pass"),
	})
	require.NoError(t, err)

	_, err = sharetoken.Parse(res.Grant.Token)
	require.NoError(t, err)
	assert.Equal(t, "https://vault.example.com/share/"+res.Grant.Token, res.ShareURL)
	assert.Equal(t, 30, res.ExpiresInMinutes)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), res.Grant.ExpiresAt)
	assert.True(t, res.Grant.HasPassword())
	assert.NotEqual(t, "Str0ng!Pass", *res.Grant.PasswordHash)

	created := f.recorder.byAction(models.AuditActionShareCreate)
	require.Len(t, created, 1)
	assert.Equal(t, models.AuditOutcomeSuccess, created[0].Outcome)
}

func TestCreateShareDefaultsExpiry(t *testing.T) {
	f := newFixture(t)
	g := f.create(t, CreateRequest{})
	assert.Equal(t, f.clock.Now().Add(60*time.Minute), g.ExpiresAt)
	assert.Nil(t, g.MaxDownloads)
}

func TestCreateShareValidationReasons(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateShare(context.Background(), f.owner, CreateRequest{
		FileID:           f.file.ID,
		ExpiresInMinutes: intPtr(0),
		MaxDownloads:     int64Ptr(0),
		Password:         strPtr("short"),
		AllowedPrincipal: strPtr("not an email"),
	})
	require.ErrorIs(t, err, xerr.ErrValidationFailed)

	var verr *xerr.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Reasons, 5)
	assert.Contains(t, verr.Reasons, "max_downloads must be a positive integer")
	assert.Contains(t, verr.Reasons, "password must be at least 8 characters")
	assert.Empty(t, f.recorder.events)
}

func TestCreateShareRequiresPermission(t *testing.T) {
	f := newFixture(t)
	stranger := &models.Principal{UserID: f.owner.UserID + 50, Role: models.RoleUser}
	_, err := f.svc.CreateShare(context.Background(), stranger, CreateRequest{FileID: f.file.ID})
	assert.ErrorIs(t, err, xerr.ErrPermissionDenied)

	_, err = f.svc.CreateShare(context.Background(), f.owner, CreateRequest{FileID: 987654})
	assert.ErrorIs(t, err, xerr.ErrFileNotFound)

	viewer := testutil.SeedUser(t, f.db, models.RoleViewer)
	require.NoError(t, f.db.Create(&models.FilePermission{
		FileID: f.file.ID, PrincipalID: viewer.ID, GrantedBy: f.owner.UserID,
		CanDownload: true, CanShare: true, Revocable: true, GrantedAt: time.Now().UTC(),
	}).Error)
	_, err = f.svc.CreateShare(context.Background(), &models.Principal{UserID: viewer.ID, Role: models.RoleViewer}, CreateRequest{FileID: f.file.ID})
	assert.ErrorIs(t, err, xerr.ErrPermissionDenied)
}

func TestCreateShareRetriesTokenConflict(t *testing.T) {
	f := newFixture(t)
	existing := f.create(t, CreateRequest{})

	fresh, err := sharetoken.Mint()
	require.NoError(t, err)
	tokens := []string{existing.Token, fresh}
	var calls int
	g := newFixtureWith(t, f, WithTokenSource(func() (string, error) {
		tok := tokens[calls]
		calls++
		return tok, nil
	}))

	res, err := g.CreateShare(context.Background(), f.owner, CreateRequest{FileID: f.file.ID})
	require.NoError(t, err)
	assert.Equal(t, fresh, res.Grant.Token)
	assert.Equal(t, 2, calls)
}

// newFixtureWith 在同一个数据库上构造带额外选项的服务
func newFixtureWith(t *testing.T, f *fixture, opts ...Option) ShareService {
	t.Helper()
	files := repositories.NewDBFileRepository(f.db, time.Second)
	resolver := permission.NewResolver(files, repositories.NewPermissionRepository(f.db, time.Second), f.recorder)
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	return NewShareService(f.repo, files, resolver, f.store, f.recorder, f.metrics, testPolicy(), testConfig(), opts...)
}

// 场景: maxDownloads=1，第一次成功，第二次次数用尽
func TestRedeemSingleUseGrant(t *testing.T) {
	f := newFixture(t)
	g := f.create(t, CreateRequest{ExpiresInMinutes: intPtr(60), MaxDownloads: int64Ptr(1)})

	dl, err := f.svc.Redeem(context.Background(), g.Token, RedeemInput{})
	require.NoError(t, err)
	assert.Equal(t, "hello", readAll(t, dl))
	assert.Equal(t, "report.txt", dl.FileName)
	assert.EqualValues(t, 1, f.count(t, g.ID))

	_, err = f.svc.Redeem(context.Background(), g.Token, RedeemInput{})
	assert.Equal(t, xerr.DenyQuotaExceeded, denyReason(t, err))
	assert.EqualValues(t, 1, f.count(t, g.ID))

	events := f.recorder.byAction(models.AuditActionShareRedeem)
	require.Len(t, events, 2)
	assert.Equal(t, models.AuditOutcomeSuccess, events[0].Outcome)
	assert.Equal(t, models.AuditOutcomeDenied, events[1].Outcome)
	assert.Equal(t, string(xerr.DenyQuotaExceeded), events[1].Reason)
	for _, e := range append(events, f.recorder.byAction(models.AuditActionShareCreate)...) {
		assert.Equal(t, g.FileID, e.FileID, "分享事件需要带上文件ID，便于按文件检索")
	}
}

// 场景: 密码错误不计数，密码正确后计数为 1
func TestRedeemPasswordProtectedGrant(t *testing.T) {
	f := newFixture(t)
	g := f.create(t, CreateRequest{Password: strPtr("Str0ng!Pass")})

	_, err := f.svc.Redeem(context.Background(), g.Token, RedeemInput{})
	assert.Equal(t, xerr.DenyPasswordRequired, denyReason(t, err))

	_, err = f.svc.Redeem(context.Background(), g.Token, RedeemInput{Password: strPtr("wrong-Pass1")})
	assert.Equal(t, xerr.DenyPasswordIncorrect, denyReason(t, err))
	assert.EqualValues(t, 0, f.count(t, g.ID))

	dl, err := f.svc.Redeem(context.Background(), g.Token, RedeemInput{Password: strPtr("Str0ng!Pass")})
	require.NoError(t, err)
	readAll(t, dl)
	assert.EqualValues(t, 1, f.count(t, g.ID))
	assert.Len(t, f.recorder.byAction(models.AuditActionShareRedeem), 3)
}

// 场景: 1 分钟有效期，2 分钟后兑换
func TestRedeemAfterExpiry(t *testing.T) {
	f := newFixture(t)
	g := f.create(t, CreateRequest{ExpiresInMinutes: intPtr(1), Password: strPtr("Str0ng!Pass")})

	f.clock.Advance(2 * time.Minute)

	// 过期优先于密码判断，即使密码正确
	_, err := f.svc.Redeem(context.Background(), g.Token, RedeemInput{Password: strPtr("Str0ng!Pass")})
	assert.Equal(t, xerr.DenyExpired, denyReason(t, err))
	assert.EqualValues(t, 0, f.count(t, g.ID))

	_, err = f.svc.GetInfo(context.Background(), g.Token)
	assert.Equal(t, xerr.DenyExpired, denyReason(t, err))
}

func TestConcurrentRedemptionsNeverExceedQuota(t *testing.T) {
	const quota = 5
	const attempts = quota + 10

	f := newFixture(t)
	g := f.create(t, CreateRequest{MaxDownloads: int64Ptr(quota)})

	var wg sync.WaitGroup
	var successes, quotaDenials atomic.Int64
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			dl, err := f.svc.Redeem(context.Background(), g.Token, RedeemInput{})
			if err == nil {
				_ = dl.Reader.Close()
				successes.Add(1)
				return
			}
			if reason, ok := xerr.DenyReasonOf(err); ok && reason == xerr.DenyQuotaExceeded {
				quotaDenials.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, quota, successes.Load())
	assert.EqualValues(t, attempts-quota, quotaDenials.Load())
	assert.EqualValues(t, quota, f.count(t, g.ID))
	assert.Len(t, f.recorder.byAction(models.AuditActionShareRedeem), attempts)
	assert.Equal(t, float64(quota), promtestutil.ToFloat64(f.metrics.RedemptionsTotal.WithLabelValues(models.AuditOutcomeSuccess, "")))
}

func TestMalformedTokenNeverReachesStore(t *testing.T) {
	f := newFixture(t)
	for _, raw := range []string{"", "abc", "../../etc/passwd", "%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%"} {
		_, err := f.svc.Redeem(context.Background(), raw, RedeemInput{})
		assert.Equal(t, xerr.DenyNotFound, denyReason(t, err))
	}
	assert.Zero(t, f.repo.finds.Load())

	events := f.recorder.byAction(models.AuditActionShareRedeem)
	require.Len(t, events, 4)
	assert.Equal(t, true, events[0].Context["malformed_token"])
}

func TestUnknownTokenIsNotFound(t *testing.T) {
	f := newFixture(t)
	tok, err := sharetoken.Mint()
	require.NoError(t, err)

	_, err = f.svc.Redeem(context.Background(), tok, RedeemInput{})
	assert.Equal(t, xerr.DenyNotFound, denyReason(t, err))

	_, err = f.svc.GetInfo(context.Background(), tok)
	assert.Equal(t, xerr.DenyNotFound, denyReason(t, err))
}

// countingPolicy 复制测试策略并统计密码比较次数
func countingPolicy(calls *atomic.Int64) *Policy {
	p := *testPolicy()
	inner := p.compare
	p.compare = func(hashed, password []byte) error {
		calls.Add(1)
		return inner(hashed, password)
	}
	return &p
}

// 不存在、格式错误与已过期的 token 带密码兑换时都执行一次哈希比较
func TestDeadAndUnknownTokensCompareEqually(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int64
	files := repositories.NewDBFileRepository(f.db, time.Second)
	resolver := permission.NewResolver(files, repositories.NewPermissionRepository(f.db, time.Second), f.recorder)
	svc := NewShareService(f.repo, files, resolver, f.store, f.recorder, f.metrics, countingPolicy(&calls), testConfig(), WithClock(f.clock.Now))

	expired := f.create(t, CreateRequest{ExpiresInMinutes: intPtr(1)})
	f.clock.Advance(2 * time.Minute)
	unknown, err := sharetoken.Mint()
	require.NoError(t, err)

	guess := RedeemInput{Password: strPtr("Guess1!guess")}
	cases := []struct {
		token  string
		reason xerr.DenyReason
	}{
		{unknown, xerr.DenyNotFound},
		{"not-a-token", xerr.DenyNotFound},
		{expired.Token, xerr.DenyExpired},
	}
	for _, tc := range cases {
		before := calls.Load()
		_, err := svc.Redeem(context.Background(), tc.token, guess)
		assert.Equal(t, tc.reason, denyReason(t, err))
		assert.EqualValues(t, 1, calls.Load()-before, "token %q", tc.token)
	}

	// 格式错误的 token 仍然不访问存储
	finds := f.repo.finds.Load()
	_, _ = svc.Redeem(context.Background(), "still-not-a-token", guess)
	assert.Equal(t, finds, f.repo.finds.Load())

	// 未提供密码时不做比较
	before := calls.Load()
	_, _ = svc.Redeem(context.Background(), unknown, RedeemInput{})
	assert.Equal(t, before, calls.Load())
}

func TestRevokedGrantStaysDead(t *testing.T) {
	f := newFixture(t)
	g := f.create(t, CreateRequest{})

	stranger := &models.Principal{UserID: f.owner.UserID + 77, Role: models.RoleUser}
	_, err := f.svc.RevokeByID(context.Background(), stranger, g.ID)
	assert.ErrorIs(t, err, xerr.ErrPermissionDenied)

	revoked, err := f.svc.RevokeByToken(context.Background(), f.owner, g.Token)
	require.NoError(t, err)
	assert.False(t, revoked.IsActive)

	// 重复撤销视为成功
	_, err = f.svc.RevokeByID(context.Background(), f.owner, g.ID)
	require.NoError(t, err)

	_, err = f.svc.Redeem(context.Background(), g.Token, RedeemInput{})
	assert.Equal(t, xerr.DenyRevoked, denyReason(t, err))

	f.clock.Advance(-time.Hour)
	_, err = f.svc.Redeem(context.Background(), g.Token, RedeemInput{})
	assert.Equal(t, xerr.DenyRevoked, denyReason(t, err))

	var stored models.ShareGrant
	require.NoError(t, f.db.First(&stored, g.ID).Error)
	assert.False(t, stored.IsActive)

	revokes := f.recorder.byAction(models.AuditActionShareRevoke)
	require.Len(t, revokes, 3)
	assert.Equal(t, models.AuditOutcomeDenied, revokes[0].Outcome)
}

func TestAdminCanRevokeAnyGrant(t *testing.T) {
	f := newFixture(t)
	g := f.create(t, CreateRequest{})
	admin := &models.Principal{UserID: 4242, Role: models.RoleAdmin}

	_, err := f.svc.RevokeByID(context.Background(), admin, g.ID)
	require.NoError(t, err)

	revokes := f.recorder.byAction(models.AuditActionShareRevoke)
	require.Len(t, revokes, 1)
	assert.Equal(t, true, revokes[0].Context["admin_override"])
}

func TestRedeemRestrictedAudience(t *testing.T) {
	f := newFixture(t)
	g := f.create(t, CreateRequest{AllowedPrincipal: strPtr("Friend@Example.com")})
	assert.True(t, g.RequiresAuth)

	_, err := f.svc.Redeem(context.Background(), g.Token, RedeemInput{})
	assert.Equal(t, xerr.DenyAuthRequired, denyReason(t, err))

	other := &models.Principal{UserID: 500, Email: "other@example.com", Role: models.RoleUser}
	_, err = f.svc.Redeem(context.Background(), g.Token, RedeemInput{Principal: other})
	assert.Equal(t, xerr.DenyPrincipalMismatch, denyReason(t, err))

	friend := &models.Principal{UserID: 501, Email: "friend@example.com", Role: models.RoleViewer}
	dl, err := f.svc.Redeem(context.Background(), g.Token, RedeemInput{Principal: friend})
	require.NoError(t, err)
	readAll(t, dl)

	events := f.recorder.byAction(models.AuditActionShareRedeem)
	require.Len(t, events, 3)
	assert.Equal(t, "anonymous", events[0].Actor)
	assert.Equal(t, "user:501", events[2].Actor)
}

func TestRedeemDeletedFile(t *testing.T) {
	f := newFixture(t)
	g := f.create(t, CreateRequest{})
	require.NoError(t, f.db.Delete(&models.File{}, f.file.ID).Error)

	_, err := f.svc.Redeem(context.Background(), g.Token, RedeemInput{})
	assert.Equal(t, xerr.DenyFileMissing, denyReason(t, err))
	assert.EqualValues(t, 0, f.count(t, g.ID))
}

func TestStorageFailureAfterCommitKeepsSlot(t *testing.T) {
	f := newFixture(t)
	g := f.create(t, CreateRequest{MaxDownloads: int64Ptr(2)})
	svc := newFixtureWith(t, f)
	svc.(*shareService).storage = brokenStorage{}

	_, err := svc.Redeem(context.Background(), g.Token, RedeemInput{})
	require.ErrorIs(t, err, xerr.ErrStorageUnavailable)
	_, isDeny := xerr.DenyReasonOf(err)
	assert.False(t, isDeny)
	assert.EqualValues(t, 1, f.count(t, g.ID))

	events := f.recorder.byAction(models.AuditActionShareRedeem)
	require.Len(t, events, 1)
	assert.Equal(t, models.AuditOutcomeFailure, events[0].Outcome)
	assert.Equal(t, true, events[0].Context["slot_consumed"])
}

func TestGetInfoHidesNonRedeemableStates(t *testing.T) {
	f := newFixture(t)
	g := f.create(t, CreateRequest{Password: strPtr("Str0ng!Pass"), MaxDownloads: int64Ptr(1)})

	info, err := f.svc.GetInfo(context.Background(), g.Token)
	require.NoError(t, err)
	assert.Equal(t, "report.txt", info.FileName)
	assert.EqualValues(t, 5, info.Size)
	assert.True(t, info.HasPassword)
	assert.False(t, info.RequiresAuth)

	dl, err := f.svc.Redeem(context.Background(), g.Token, RedeemInput{Password: strPtr("Str0ng!Pass")})
	require.NoError(t, err)
	readAll(t, dl)

	_, err = f.svc.GetInfo(context.Background(), g.Token)
	assert.Equal(t, xerr.DenyQuotaExceeded, denyReason(t, err))
}

func TestListMineReportsStatus(t *testing.T) {
	f := newFixture(t)
	active := f.create(t, CreateRequest{})
	revoked := f.create(t, CreateRequest{})
	_, err := f.svc.RevokeByID(context.Background(), f.owner, revoked.ID)
	require.NoError(t, err)

	views, total, err := f.svc.ListMine(context.Background(), f.owner, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	status := map[uint64]string{}
	for _, v := range views {
		status[v.Grant.ID] = v.Status
		assert.Equal(t, "report.txt", v.FileName)
	}
	assert.Equal(t, StatusActive, status[active.ID])
	assert.Equal(t, StatusRevoked, status[revoked.ID])
}
