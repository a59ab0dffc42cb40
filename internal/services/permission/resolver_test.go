package permission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/testutil"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-filevault/internal/repositories"
	"github.com/3Eeeecho/go-filevault/internal/services/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func TestDecide(t *testing.T) {
	file := &models.File{ID: 10, UserID: 1}
	owner := &models.Principal{UserID: 1, Role: models.RoleUser}
	other := &models.Principal{UserID: 2, Role: models.RoleUser}
	viewer := &models.Principal{UserID: 3, Role: models.RoleViewer}
	admin := &models.Principal{UserID: 9, Role: models.RoleAdmin}

	readOnly := &models.FilePermission{FileID: 10, PrincipalID: 2, CanDownload: false}
	download := &models.FilePermission{FileID: 10, PrincipalID: 2, CanDownload: true}
	reshare := &models.FilePermission{FileID: 10, PrincipalID: 2, CanDownload: true, CanShare: true}
	viewerShare := &models.FilePermission{FileID: 10, PrincipalID: 3, CanDownload: true, CanShare: true}
	otherFile := &models.FilePermission{FileID: 11, PrincipalID: 2, CanDownload: true}

	tests := []struct {
		name     string
		p        *models.Principal
		perm     *models.FilePermission
		action   Action
		allowed  bool
		override bool
		reason   string
	}{
		{"anonymous", nil, nil, ActionRead, false, false, ReasonUnauthenticated},
		{"owner manage", owner, nil, ActionManage, true, false, ReasonOwner},
		{"owner share", owner, nil, ActionShare, true, false, ReasonOwner},
		{"stranger read", other, nil, ActionRead, false, false, ReasonNoPermission},
		{"acl read", other, readOnly, ActionRead, true, false, ReasonACL},
		{"acl without download", other, readOnly, ActionDownload, false, false, ReasonNoPermission},
		{"acl download", other, download, ActionDownload, true, false, ReasonACL},
		{"acl share without flag", other, download, ActionShare, false, false, ReasonNoPermission},
		{"acl reshare", other, reshare, ActionShare, true, false, ReasonACL},
		{"acl never manages", other, reshare, ActionManage, false, false, ReasonNoPermission},
		{"acl for other file ignored", other, otherFile, ActionDownload, false, false, ReasonNoPermission},
		{"viewer download", viewer, viewerShare, ActionDownload, true, false, ReasonACL},
		{"viewer cannot share", viewer, viewerShare, ActionShare, false, false, ReasonRoleForbidden},
		{"admin override", admin, nil, ActionManage, true, true, ReasonAdminOverride},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.p, file, tt.perm, tt.action)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.override, d.AdminOverride)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func newResolver(t *testing.T) (*Resolver, *captureRecorder, *models.User, *models.File, repositories.PermissionRepository) {
	t.Helper()
	db := testutil.NewTestDB(t)
	owner := testutil.SeedUser(t, db, models.RoleUser)
	file := testutil.SeedFile(t, db, owner.ID, "report.pdf")
	perms := repositories.NewPermissionRepository(db, time.Second)
	rec := &captureRecorder{}
	return NewResolver(repositories.NewDBFileRepository(db, time.Second), perms, rec), rec, owner, file, perms
}

func TestResolverUsesACL(t *testing.T) {
	r, rec, owner, file, perms := newResolver(t)
	ctx := context.Background()
	grantee := &models.Principal{UserID: owner.ID + 100, Role: models.RoleViewer}

	ok, err := r.CanAccess(ctx, grantee, file.ID, ActionDownload)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, perms.Upsert(ctx, &models.FilePermission{
		FileID: file.ID, PrincipalID: grantee.UserID, GrantedBy: owner.ID,
		CanDownload: true, Revocable: true, GrantedAt: time.Now().UTC(),
	}))

	ok, err = r.CanAccess(ctx, grantee, file.ID, ActionDownload)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, rec.events)
}

func TestResolverAuditsAdminOverride(t *testing.T) {
	r, rec, _, file, _ := newResolver(t)
	admin := &models.Principal{UserID: 999, Role: models.RoleAdmin}

	got, decision, err := r.Authorize(context.Background(), admin, file.ID, ActionManage)
	require.NoError(t, err)
	assert.Equal(t, file.ID, got.ID)
	assert.True(t, decision.AdminOverride)

	require.Len(t, rec.events, 1)
	assert.Equal(t, models.AuditActionAdminOverride, rec.events[0].Action)
	assert.Equal(t, "user:999", rec.events[0].Actor)
}

func TestResolverMissingFile(t *testing.T) {
	r, _, owner, _, _ := newResolver(t)
	p := &models.Principal{UserID: owner.ID, Role: models.RoleUser}

	_, _, err := r.Authorize(context.Background(), p, 424242, ActionRead)
	assert.ErrorIs(t, err, xerr.ErrFileNotFound)

	ok, err := r.CanAccess(context.Background(), p, 424242, ActionRead)
	require.NoError(t, err)
	assert.False(t, ok)
}
