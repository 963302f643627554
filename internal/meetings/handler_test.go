package meetings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusconf/backend/internal/middleware"
	"github.com/campusconf/backend/internal/models"
)

type countingAccounts struct {
	known       map[string]*models.WebexUser
	lookupCalls int
	ensureCalls int
}

func (a *countingAccounts) GetByPlatformUser(ctx context.Context, platformUser string) (*models.WebexUser, error) {
	a.lookupCalls++
	return a.known[platformUser], nil
}

func (a *countingAccounts) EnsureUser(ctx context.Context, platformUser, email, firstName, lastName string) (*models.WebexUser, error) {
	a.ensureCalls++
	u := &models.WebexUser{PlatformUser: platformUser, Email: email, WebexID: platformUser}
	a.known[platformUser] = u
	return u, nil
}

func joinRouter(h *Handler, platformUser, email string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, platformUser)
		c.Set(middleware.ContextUserEmail, email)
	})
	r.GET("/meetings/:id/join", h.Join)
	return r
}

func liveMeeting(repo *memRepo) *models.Meeting {
	m := &models.Meeting{
		ID:          1,
		MeetingKey:  "805829036",
		GuestKey:    "g-1",
		HostKey:     "h-1",
		CreatorUser: "jamie.stone",
		Status:      models.MeetingInProgress,
	}
	repo.rows[1] = m
	return m
}

func joinData(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Data
}

func TestJoinDoesNotProvisionAccounts(t *testing.T) {
	repo := newMemRepo()
	liveMeeting(repo)
	accounts := &countingAccounts{known: map[string]*models.WebexUser{}}
	h := NewHandler(NewService(repo, &fakeRemote{}, nil, 60, nil), accounts, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/meetings/1/join", nil)
	joinRouter(h, "student-42", "pat@campus.test").ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, accounts.ensureCalls)
	assert.Equal(t, 1, accounts.lookupCalls)

	data := joinData(t, rec)
	assert.Equal(t, false, data["as_host"])
	assert.Equal(t, true, data["available"])
	assert.Equal(t, "805829036", data["meeting_key"])
	assert.Equal(t, "", data["host_key"])
}

func TestJoinRecognizesMappedHost(t *testing.T) {
	repo := newMemRepo()
	liveMeeting(repo)
	accounts := &countingAccounts{known: map[string]*models.WebexUser{
		"prof-7": {PlatformUser: "prof-7", WebexID: "jamie.stone"},
	}}
	h := NewHandler(NewService(repo, &fakeRemote{}, nil, 60, nil), accounts, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/meetings/1/join", nil)
	joinRouter(h, "prof-7", "jamie@campus.test").ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, accounts.ensureCalls)

	data := joinData(t, rec)
	assert.Equal(t, true, data["as_host"])
	assert.Equal(t, "h-1", data["host_key"])
}
