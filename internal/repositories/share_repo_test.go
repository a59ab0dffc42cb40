package repositories

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/metrics"
	"github.com/3Eeeecho/go-filevault/internal/pkg/sharetoken"
	"github.com/3Eeeecho/go-filevault/internal/pkg/testutil"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const commitSQL = "UPDATE `share_grants` SET .*download_count.*=download_count \\+ 1.* WHERE token = \\? AND is_active = \\? AND expires_at > \\? AND \\(max_downloads IS NULL OR download_count < max_downloads\\)"

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return db, mock
}

func seedGrant(t *testing.T, db *gorm.DB, maxDownloads *int64, expiresAt time.Time) *models.ShareGrant {
	t.Helper()
	owner := testutil.SeedUser(t, db, models.RoleUser)
	file := testutil.SeedFile(t, db, owner.ID, "a.txt")
	token, err := sharetoken.Mint()
	require.NoError(t, err)
	grant := &models.ShareGrant{
		Token:        token,
		FileID:       file.ID,
		OwnerID:      owner.ID,
		ExpiresAt:    expiresAt.UTC(),
		MaxDownloads: maxDownloads,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, NewShareRepository(db, time.Second, 1, nil).Create(context.Background(), grant))
	return grant
}

func limit(n int64) *int64 { return &n }

func TestCommitRedemptionIsSingleConditionalUpdate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewShareRepository(db, time.Second, 3, nil)

	mock.ExpectExec(commitSQL).WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CommitRedemption(context.Background(), "tok", 0, time.Now().UTC())
	require.NoError(t, err)
	// 没有任何先读后写的 SELECT
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitRedemptionRetriesDeadlock(t *testing.T) {
	db, mock := newMockDB(t)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	repo := NewShareRepository(db, time.Second, 3, m)

	deadlock := &mysqldriver.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}
	mock.ExpectExec(commitSQL).WillReturnError(deadlock)
	mock.ExpectExec(commitSQL).WillReturnError(deadlock)
	mock.ExpectExec(commitSQL).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.CommitRedemption(context.Background(), "tok", 0, time.Now().UTC()))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, float64(2), promtestutil.ToFloat64(m.CommitRetriesTotal))
}

func TestCommitRedemptionContention(t *testing.T) {
	db, mock := newMockDB(t)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	repo := NewShareRepository(db, time.Second, 2, m)

	lockWait := &mysqldriver.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}
	mock.ExpectExec(commitSQL).WillReturnError(lockWait)
	mock.ExpectExec(commitSQL).WillReturnError(lockWait)

	err := repo.CommitRedemption(context.Background(), "tok", 0, time.Now().UTC())
	assert.ErrorIs(t, err, xerr.ErrContention)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, float64(1), promtestutil.ToFloat64(m.CommitContentionTotal))
}

func TestCommitRedemptionOtherErrorsAreDependencyFailures(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewShareRepository(db, time.Second, 3, nil)

	mock.ExpectExec(commitSQL).WillReturnError(&mysqldriver.MySQLError{Number: 2006, Message: "MySQL server has gone away"})

	err := repo.CommitRedemption(context.Background(), "tok", 0, time.Now().UTC())
	assert.ErrorIs(t, err, xerr.ErrDatabaseError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitRedemptionConcurrentQuota(t *testing.T) {
	const quota = 3
	const callers = 20

	db := testutil.NewTestDB(t)
	grant := seedGrant(t, db, limit(quota), time.Now().Add(time.Hour))
	repo := NewShareRepository(db, 5*time.Second, 5, nil)

	var wg sync.WaitGroup
	var ok, exhausted atomic.Int64
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := repo.CommitRedemption(context.Background(), grant.Token, 0, time.Now().UTC())
			if err == nil {
				ok.Add(1)
				return
			}
			if reason, isDeny := xerr.DenyReasonOf(err); isDeny && reason == xerr.DenyQuotaExceeded {
				exhausted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, quota, ok.Load())
	assert.EqualValues(t, callers-quota, exhausted.Load())

	stored, err := repo.FindByID(context.Background(), grant.ID)
	require.NoError(t, err)
	assert.EqualValues(t, quota, stored.DownloadCount)
}

func TestCommitRedemptionClassifiesRejection(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewShareRepository(db, time.Second, 1, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := seedGrant(t, db, nil, now.Add(-time.Minute))
	err := repo.CommitRedemption(ctx, expired.Token, 0, now)
	reason, _ := xerr.DenyReasonOf(err)
	assert.Equal(t, xerr.DenyExpired, reason)

	revoked := seedGrant(t, db, nil, now.Add(time.Hour))
	_, err = repo.Revoke(ctx, revoked.ID, revoked.OwnerID, false)
	require.NoError(t, err)
	err = repo.CommitRedemption(ctx, revoked.Token, 0, now)
	reason, _ = xerr.DenyReasonOf(err)
	assert.Equal(t, xerr.DenyRevoked, reason)

	err = repo.CommitRedemption(ctx, "missing-token", 0, now)
	reason, _ = xerr.DenyReasonOf(err)
	assert.Equal(t, xerr.DenyNotFound, reason)
}

func TestRevokeRules(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewShareRepository(db, time.Second, 1, nil)
	ctx := context.Background()
	grant := seedGrant(t, db, nil, time.Now().Add(time.Hour))

	_, err := repo.Revoke(ctx, grant.ID, grant.OwnerID+1, false)
	assert.ErrorIs(t, err, xerr.ErrPermissionDenied)

	_, err = repo.Revoke(ctx, 999999, grant.OwnerID, false)
	assert.ErrorIs(t, err, xerr.ErrShareNotFound)

	got, err := repo.Revoke(ctx, grant.ID, grant.OwnerID+1, true)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	got, err = repo.Revoke(ctx, grant.ID, grant.OwnerID, false)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestCreateRejectsDuplicateToken(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewShareRepository(db, time.Second, 1, nil)
	grant := seedGrant(t, db, nil, time.Now().Add(time.Hour))

	dup := *grant
	dup.ID = 0
	err := repo.Create(context.Background(), &dup)
	assert.ErrorIs(t, err, xerr.ErrShareTokenConflict)
}

func TestDeactivateByFile(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewShareRepository(db, time.Second, 1, nil)
	grant := seedGrant(t, db, nil, time.Now().Add(time.Hour))

	n, err := repo.DeactivateByFile(context.Background(), grant.FileID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stored, err := repo.FindByToken(context.Background(), grant.Token)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}
