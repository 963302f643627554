package meetings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusconf/backend/internal/models"
	"github.com/campusconf/backend/internal/webex"
	"github.com/campusconf/backend/pkg/queue"
)

type memRepo struct {
	nextID   int64
	rows     map[int64]*models.Meeting
	creates  int
	updates  int
	deleted  []int64
	sweepSet []*models.Meeting
}

func newMemRepo() *memRepo {
	return &memRepo{nextID: 1, rows: map[int64]*models.Meeting{}}
}

func (r *memRepo) Create(ctx context.Context, m *models.Meeting) error {
	m.ID = r.nextID
	r.nextID++
	r.rows[m.ID] = m
	r.creates++
	return nil
}

func (r *memRepo) Update(ctx context.Context, m *models.Meeting) error {
	r.rows[m.ID] = m
	r.updates++
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id int64) (*models.Meeting, error) {
	return r.rows[id], nil
}

func (r *memRepo) GetByMeetingKey(ctx context.Context, meetingKey string) (*models.Meeting, error) {
	for _, m := range r.rows {
		if m.MeetingKey == meetingKey {
			return m, nil
		}
	}
	return nil, nil
}

func (r *memRepo) ListByCourse(ctx context.Context, course int64) ([]*models.Meeting, error) {
	var out []*models.Meeting
	for _, m := range r.rows {
		if m.Course == course {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memRepo) ListCreatedSince(ctx context.Context, since time.Time) ([]*models.Meeting, error) {
	return r.sweepSet, nil
}

func (r *memRepo) Delete(ctx context.Context, id int64) error {
	delete(r.rows, id)
	r.deleted = append(r.deleted, id)
	return nil
}

type remoteCall struct {
	op         string
	meetingKey string
	hosts      []string
}

type fakeRemote struct {
	calls     []remoteCall
	fields    webex.Fields
	openKeys  []string
	createErr error
	deleteErr error
}

func (f *fakeRemote) GetMeetingInfo(ctx context.Context, b webex.RequestBuilder, meetingKey string) (webex.Fields, error) {
	f.calls = append(f.calls, remoteCall{op: "info", meetingKey: meetingKey})
	return f.fields, nil
}

func (f *fakeRemote) CreateMeeting(ctx context.Context, user *models.WebexUser, b webex.RequestBuilder, d webex.MeetingDetails) (webex.Fields, error) {
	f.calls = append(f.calls, remoteCall{op: "create"})
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.fields, nil
}

func (f *fakeRemote) UpdateMeeting(ctx context.Context, user *models.WebexUser, b webex.RequestBuilder, d webex.MeetingDetails) (webex.Fields, error) {
	f.calls = append(f.calls, remoteCall{op: "update", meetingKey: d.MeetingKey, hosts: d.HostUsers})
	return f.fields, nil
}

func (f *fakeRemote) DeleteMeeting(ctx context.Context, b webex.RequestBuilder, meetingKey string) error {
	f.calls = append(f.calls, remoteCall{op: "delete", meetingKey: meetingKey})
	return f.deleteErr
}

func (f *fakeRemote) ListOpenSessions(ctx context.Context) ([]string, error) {
	return f.openKeys, nil
}

type capturePublisher struct {
	events []queue.MeetingEventPayload
}

func (p *capturePublisher) PublishMeetingEvent(ctx context.Context, payload queue.MeetingEventPayload) error {
	p.events = append(p.events, payload)
	return nil
}

type fakeCascade struct {
	calls []int64
	err   error
}

func (f *fakeCascade) TrueDeleteByMeeting(ctx context.Context, meetingID int64, deleteRemote bool) error {
	f.calls = append(f.calls, meetingID)
	return f.err
}

func host() *models.WebexUser {
	return &models.WebexUser{WebexID: "jamie.stone"}
}

func TestSaveCreatesRemoteThenLocal(t *testing.T) {
	repo := newMemRepo()
	remote := &fakeRemote{fields: webex.Fields{
		"meet:meetingkey": {"805829036"},
		"meet:guestKey":   {"g-1"},
		"meet:hostKey":    {"h-1"},
	}}
	events := &capturePublisher{}
	svc := NewService(repo, remote, events, 60, nil)

	m := &models.Meeting{Course: 7, Name: "Algorithms", Type: models.MeetingCenter, Duration: 60}
	require.NoError(t, svc.Save(context.Background(), m, host()))

	require.Len(t, remote.calls, 1)
	assert.Equal(t, "create", remote.calls[0].op)
	assert.Equal(t, "805829036", m.MeetingKey)
	assert.Equal(t, "g-1", m.GuestKey)
	assert.Equal(t, "h-1", m.HostKey)
	assert.Equal(t, "jamie.stone", m.CreatorUser)
	assert.Equal(t, models.MeetingNeverStarted, m.Status)
	assert.Equal(t, 1, repo.creates)
	assert.NotZero(t, m.ID)
}

func TestSaveUpdatesExistingSession(t *testing.T) {
	repo := newMemRepo()
	remote := &fakeRemote{fields: webex.Fields{}}
	svc := NewService(repo, remote, nil, 60, nil)

	m := &models.Meeting{Course: 7, Name: "Algorithms", Type: models.MeetingCenter, MeetingKey: "805829036", CreatorUser: "jamie.stone", Status: models.MeetingStopped}
	require.NoError(t, repo.Create(context.Background(), m))
	repo.creates = 0

	m.Name = "Algorithms II"
	require.NoError(t, svc.Save(context.Background(), m, host()))

	require.Len(t, remote.calls, 1)
	assert.Equal(t, "update", remote.calls[0].op)
	assert.Equal(t, "805829036", remote.calls[0].meetingKey)
	assert.Equal(t, 0, repo.creates)
	assert.Equal(t, 1, repo.updates)
}

func TestSaveRemoteFailureWritesNothing(t *testing.T) {
	repo := newMemRepo()
	remote := &fakeRemote{createErr: &webex.ServiceError{ExceptionID: "060001", Reason: "boom"}}
	svc := NewService(repo, remote, nil, 60, nil)

	m := &models.Meeting{Course: 7, Name: "Algorithms", Type: models.MeetingCenter}
	err := svc.Save(context.Background(), m, host())
	require.Error(t, err)
	assert.Equal(t, 0, repo.creates)
	assert.Empty(t, repo.rows)
}

func TestDeleteCascadesRecordingsRemoteLocal(t *testing.T) {
	repo := newMemRepo()
	remote := &fakeRemote{}
	cascade := &fakeCascade{}
	svc := NewService(repo, remote, nil, 60, nil)
	svc.SetRecordingCascade(cascade)

	m := &models.Meeting{Type: models.MeetingCenter, MeetingKey: "805829036"}
	require.NoError(t, repo.Create(context.Background(), m))

	require.NoError(t, svc.Delete(context.Background(), m, true))
	assert.Equal(t, []int64{m.ID}, cascade.calls)
	require.Len(t, remote.calls, 1)
	assert.Equal(t, "delete", remote.calls[0].op)
	assert.Equal(t, []int64{m.ID}, repo.deleted)
}

func TestDeleteStopsWhenCascadeFails(t *testing.T) {
	repo := newMemRepo()
	remote := &fakeRemote{}
	cascade := &fakeCascade{err: errors.New("storage down")}
	svc := NewService(repo, remote, nil, 60, nil)
	svc.SetRecordingCascade(cascade)

	m := &models.Meeting{Type: models.MeetingCenter, MeetingKey: "805829036"}
	require.NoError(t, repo.Create(context.Background(), m))

	require.Error(t, svc.Delete(context.Background(), m, false))
	assert.Empty(t, remote.calls)
	assert.Empty(t, repo.deleted)
}

func TestDeleteNeverCreatedSkipsRemote(t *testing.T) {
	repo := newMemRepo()
	remote := &fakeRemote{}
	svc := NewService(repo, remote, nil, 60, nil)

	m := &models.Meeting{Type: models.MeetingCenter}
	require.NoError(t, repo.Create(context.Background(), m))

	require.NoError(t, svc.Delete(context.Background(), m, false))
	assert.Empty(t, remote.calls)
	assert.Equal(t, []int64{m.ID}, repo.deleted)
}

func TestAddHostSkipsOwner(t *testing.T) {
	remote := &fakeRemote{}
	svc := NewService(newMemRepo(), remote, nil, 60, nil)

	m := &models.Meeting{Type: models.MeetingCenter, MeetingKey: "805829036", CreatorUser: "jamie.stone"}
	require.NoError(t, svc.AddHost(context.Background(), m, host(), host()))
	assert.Empty(t, remote.calls)

	other := &models.WebexUser{WebexID: "sam.lee"}
	require.NoError(t, svc.AddHost(context.Background(), m, host(), other))
	require.Len(t, remote.calls, 1)
	assert.Equal(t, []string{"sam.lee"}, remote.calls[0].hosts)
}

func TestSweepStatusMarksLiveAndStopped(t *testing.T) {
	repo := newMemRepo()
	live := &models.Meeting{ID: 1, MeetingKey: "111", Status: models.MeetingNeverStarted}
	ended := &models.Meeting{ID: 2, MeetingKey: "222", Status: models.MeetingInProgress}
	idle := &models.Meeting{ID: 3, MeetingKey: "333", Status: models.MeetingStopped}
	repo.rows[1], repo.rows[2], repo.rows[3] = live, ended, idle
	repo.sweepSet = []*models.Meeting{live, ended, idle}

	remote := &fakeRemote{openKeys: []string{"111"}}
	events := &capturePublisher{}
	svc := NewService(repo, remote, events, 60, nil)

	require.NoError(t, svc.SweepStatus(context.Background(), time.Now().Add(-24*time.Hour)))

	assert.Equal(t, models.MeetingInProgress, live.Status)
	assert.Equal(t, models.MeetingStopped, ended.Status)
	assert.Equal(t, models.MeetingStopped, idle.Status)
	assert.False(t, idle.LastStatusCheck.IsZero())

	require.Len(t, events.events, 2)
	got := map[int64]string{}
	for _, e := range events.events {
		got[e.MeetingID] = e.Event
	}
	assert.Equal(t, queue.EventMeetingStarted, got[1])
	assert.Equal(t, queue.EventMeetingEnded, got[2])
}

func TestGetInfoRequiresRemoteSession(t *testing.T) {
	svc := NewService(newMemRepo(), &fakeRemote{}, nil, 60, nil)
	err := svc.GetInfo(context.Background(), &models.Meeting{Type: models.MeetingCenter}, false)
	var cerr *webex.ConsistencyError
	require.ErrorAs(t, err, &cerr)
}

func TestGetInfoMergesAndOptionallySaves(t *testing.T) {
	repo := newMemRepo()
	remote := &fakeRemote{fields: webex.Fields{"meet:status": {"INPROGRESS"}}}
	svc := NewService(repo, remote, nil, 60, nil)

	m := &models.Meeting{ID: 5, Type: models.MeetingCenter, MeetingKey: "805829036", Status: models.MeetingNeverStarted}
	require.NoError(t, svc.GetInfo(context.Background(), m, false))
	assert.Equal(t, models.MeetingInProgress, m.Status)
	assert.Equal(t, 0, repo.updates)

	remote.fields = webex.Fields{"meet:status": {"NOT_INPROGRESS"}}
	require.NoError(t, svc.GetInfo(context.Background(), m, true))
	assert.Equal(t, models.MeetingStopped, m.Status)
	assert.Equal(t, 1, repo.updates)
}
