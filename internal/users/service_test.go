package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusconf/backend/internal/models"
	"github.com/campusconf/backend/internal/webex"
	"github.com/campusconf/backend/pkg/secrets"
)

type memStore struct {
	nextID     int64
	byPlatform map[string]*models.WebexUser
	byWebexID  map[string]*models.WebexUser
}

func newMemStore() *memStore {
	return &memStore{byPlatform: map[string]*models.WebexUser{}, byWebexID: map[string]*models.WebexUser{}}
}

func (m *memStore) GetByPlatformUser(_ context.Context, platformUser string) (*models.WebexUser, error) {
	return m.byPlatform[platformUser], nil
}

func (m *memStore) GetByWebexID(_ context.Context, webexID string) (*models.WebexUser, error) {
	return m.byWebexID[webexID], nil
}

func (m *memStore) Create(_ context.Context, u *models.WebexUser) error {
	m.nextID++
	u.ID = m.nextID
	m.byPlatform[u.PlatformUser] = u
	m.byWebexID[u.WebexID] = u
	return nil
}

func (m *memStore) UpdatePassword(_ context.Context, id int64, enc []byte) error {
	for _, u := range m.byPlatform {
		if u.ID == id {
			u.PasswordEnc = enc
		}
	}
	return nil
}

type fakeDirectory struct {
	created     []webex.UserDetails
	createErr   error
	passwordSet map[string]string
}

func (f *fakeDirectory) CreateUser(_ context.Context, u webex.UserDetails) (webex.Fields, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, u)
	return webex.Fields{}, nil
}

func (f *fakeDirectory) GetUserInfo(context.Context, string) (webex.Fields, error) {
	return webex.Fields{"use:email": {"taken@campus.test"}}, nil
}

func (f *fakeDirectory) UpdateUserPassword(_ context.Context, webexID, password string) error {
	if f.passwordSet == nil {
		f.passwordSet = map[string]string{}
	}
	f.passwordSet[webexID] = password
	return nil
}

func newUserService(t *testing.T) (*Service, *memStore, *fakeDirectory) {
	t.Helper()
	box, err := secrets.New("unit-test-secret")
	require.NoError(t, err)
	store := newMemStore()
	dir := &fakeDirectory{}
	svc := NewService(store, box, nil)
	svc.SetRemote(dir)
	return svc, store, dir
}

func TestEnsureUserProvisionsOnFirstUse(t *testing.T) {
	svc, store, dir := newUserService(t)
	ctx := context.Background()

	u, err := svc.EnsureUser(ctx, "u1234", "Jamie.Stone@campus.test", "Jamie", "Stone")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "jamie.stone", u.WebexID)
	assert.NotEmpty(t, u.PasswordEnc)

	require.Len(t, dir.created, 1)
	assert.Equal(t, "jamie.stone", dir.created[0].WebexID)

	// The stored credential decrypts to the provisioned password.
	plain, err := svc.Password(u)
	require.NoError(t, err)
	assert.Equal(t, dir.created[0].Password, plain)

	assert.NotNil(t, store.byPlatform["u1234"])
}

func TestEnsureUserReturnsExistingMapping(t *testing.T) {
	svc, _, dir := newUserService(t)
	ctx := context.Background()

	first, err := svc.EnsureUser(ctx, "u1234", "jamie@campus.test", "", "")
	require.NoError(t, err)
	second, err := svc.EnsureUser(ctx, "u1234", "jamie@campus.test", "", "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, dir.created, 1, "no second remote provisioning")
}

func TestEnsureUserAdoptsTakenUsername(t *testing.T) {
	svc, _, dir := newUserService(t)
	dir.createErr = &webex.ServiceError{Reason: "user exists", ExceptionID: webex.ExceptionUserExists}
	ctx := context.Background()

	u, err := svc.EnsureUser(ctx, "u9", "jamie@campus.test", "", "")
	require.NoError(t, err)
	require.NotNil(t, u)

	// Adopted: password reset remotely to the generated one, then persisted.
	reset, ok := dir.passwordSet["jamie"]
	require.True(t, ok)
	plain, err := svc.Password(u)
	require.NoError(t, err)
	assert.Equal(t, reset, plain)
}

func TestEnsureUserPropagatesOtherProvisioningErrors(t *testing.T) {
	svc, store, dir := newUserService(t)
	dir.createErr = &webex.ServiceError{Reason: "access denied", ExceptionID: "000001"}

	_, err := svc.EnsureUser(context.Background(), "u9", "jamie@campus.test", "", "")
	require.Error(t, err)
	assert.Empty(t, store.byPlatform, "no mapping persisted on failure")
}

func TestStorePasswordRoundTrip(t *testing.T) {
	svc, _, _ := newUserService(t)
	ctx := context.Background()

	u, err := svc.EnsureUser(ctx, "u1", "a@campus.test", "", "")
	require.NoError(t, err)

	require.NoError(t, svc.StorePassword(ctx, u, "fresh-pw"))
	plain, err := svc.Password(u)
	require.NoError(t, err)
	assert.Equal(t, "fresh-pw", plain)
}

func TestDeriveWebexID(t *testing.T) {
	assert.Equal(t, "jamie.stone", deriveWebexID("Jamie.Stone@campus.test"))
	assert.Equal(t, "j_mie", deriveWebexID("j+mie@campus.test"))
	assert.Equal(t, "plainname", deriveWebexID("plainname"))
}
