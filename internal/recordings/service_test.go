package recordings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusconf/backend/config"
	"github.com/campusconf/backend/internal/models"
	"github.com/campusconf/backend/internal/webex"
)

// fakeStore is an in-memory Store with the repository's conflict semantics.
type fakeStore struct {
	nextID  int64
	rows    map[int64]*models.Recording
	byRecID map[string]int64
	servers []*models.RemoteServer
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[int64]*models.Recording{}, byRecID: map[string]int64{}}
}

func clone(rec *models.Recording) *models.Recording {
	cp := *rec
	if rec.Additional != nil {
		cp.Additional = map[string]string{}
		for k, v := range rec.Additional {
			cp.Additional[k] = v
		}
	}
	return &cp
}

func (f *fakeStore) Create(_ context.Context, rec *models.Recording) (bool, error) {
	if _, ok := f.byRecID[rec.RecordingID]; ok {
		return false, nil
	}
	f.nextID++
	rec.ID = f.nextID
	rec.UniqueID = uuid.New()
	rec.TimeModified = time.Now()
	f.rows[rec.ID] = clone(rec)
	f.byRecID[rec.RecordingID] = rec.ID
	return true, nil
}

func (f *fakeStore) Update(_ context.Context, rec *models.Recording) error {
	if _, ok := f.rows[rec.ID]; !ok {
		return errors.New("no such row")
	}
	rec.TimeModified = time.Now()
	f.rows[rec.ID] = clone(rec)
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id int64) (*models.Recording, error) {
	rec, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	return clone(rec), nil
}

func (f *fakeStore) GetByRecordingID(_ context.Context, recordingID string) (*models.Recording, error) {
	id, ok := f.byRecID[recordingID]
	if !ok {
		return nil, nil
	}
	return clone(f.rows[id]), nil
}

func (f *fakeStore) ListByMeeting(_ context.Context, meetingID int64) ([]*models.Recording, error) {
	var out []*models.Recording
	for _, rec := range f.rows {
		if rec.MeetingID != nil && *rec.MeetingID == meetingID {
			out = append(out, clone(rec))
		}
	}
	return out, nil
}

func (f *fakeStore) ListDeletedBefore(_ context.Context, cutoff time.Time) ([]*models.Recording, error) {
	var out []*models.Recording
	for _, rec := range f.rows {
		if rec.Deleted != nil && rec.Deleted.Before(cutoff) {
			out = append(out, clone(rec))
		}
	}
	return out, nil
}

func (f *fakeStore) ListFiltered(_ context.Context, _ Filter) ([]*models.Recording, error) {
	var out []*models.Recording
	for _, rec := range f.rows {
		out = append(out, clone(rec))
	}
	return out, nil
}

func (f *fakeStore) Delete(_ context.Context, id int64) error {
	if rec, ok := f.rows[id]; ok {
		delete(f.byRecID, rec.RecordingID)
		delete(f.rows, id)
	}
	return nil
}

func (f *fakeStore) ListRemoteServers(context.Context) ([]*models.RemoteServer, error) {
	return f.servers, nil
}

type fakeMeetings struct {
	byKey map[string]*models.Meeting
}

func (f *fakeMeetings) GetByMeetingKey(_ context.Context, key string) (*models.Meeting, error) {
	return f.byKey[key], nil
}

type fakeRemote struct {
	deleted []string
	renamed map[string]string
	fail    error
}

func (f *fakeRemote) DeleteRecording(_ context.Context, recordingID string) error {
	if f.fail != nil {
		return f.fail
	}
	f.deleted = append(f.deleted, recordingID)
	return nil
}

func (f *fakeRemote) UpdateRecording(_ context.Context, recordingID, topic string) error {
	if f.renamed == nil {
		f.renamed = map[string]string{}
	}
	f.renamed[recordingID] = topic
	return nil
}

type fakeFiles struct {
	objects map[string]bool
	deleted []string
}

func (f *fakeFiles) Exists(_ context.Context, key string) (bool, error) { return f.objects[key], nil }

func (f *fakeFiles) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

type fixture struct {
	store    *fakeStore
	meetings *fakeMeetings
	remote   *fakeRemote
	files    *fakeFiles
	service  *Service
}

func newFixture(t *testing.T, cfg config.RecordingConfig) *fixture {
	t.Helper()
	f := &fixture{
		store:    newFakeStore(),
		meetings: &fakeMeetings{byKey: map[string]*models.Meeting{}},
		remote:   &fakeRemote{},
		files:    &fakeFiles{objects: map[string]bool{}},
	}
	f.service = NewService(f.store, f.meetings, f.remote, f.files, cfg, nil)
	return f
}

func sampleRemote(id, key string) webex.RemoteRecording {
	return webex.RemoteRecording{
		RecordingID: id,
		MeetingKey:  key,
		HostID:      "prof.stone",
		Name:        "Week 3",
		CreateTime:  time.Now().Add(-time.Hour),
		StreamURL:   "https://example.webex.com/stream/" + id,
		FileURL:     "https://example.webex.com/file/" + id,
		FileSize:    10 << 20,
		Duration:    3600,
	}
}

func TestVisibleFalseWhenDeleted(t *testing.T) {
	now := time.Now()
	rec := &models.Recording{StoredVisib: true, Deleted: &now}
	assert.False(t, rec.Visible(), "soft delete overrides the stored flag")
	rec.Deleted = nil
	assert.True(t, rec.Visible())
}

func TestMaterializeIdempotent(t *testing.T) {
	f := newFixture(t, config.RecordingConfig{})
	ctx := context.Background()

	rec1, created, err := f.service.Materialize(ctx, sampleRemote("9001", "805829036"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.FileWebexOnly, rec1.FileStatus)

	// Same artifact again, with refreshed provider fields.
	rr := sampleRemote("9001", "805829036")
	rr.Name = "Week 3 (edited)"
	rec2, created, err := f.service.Materialize(ctx, rr)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rec1.ID, rec2.ID)
	assert.Equal(t, "Week 3 (edited)", rec2.Name)
	assert.Len(t, f.store.rows, 1)
}

func TestAssociationLocal(t *testing.T) {
	f := newFixture(t, config.RecordingConfig{})
	f.meetings.byKey["805829036"] = &models.Meeting{ID: 7, MeetingKey: "805829036"}
	ctx := context.Background()

	rec, _, err := f.service.Materialize(ctx, sampleRemote("9001", "805829036"))
	require.NoError(t, err)

	assoc, err := f.service.Association(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, models.AssociationLocal, assoc)
	require.NotNil(t, rec.MeetingID)
	assert.Equal(t, int64(7), *rec.MeetingID)

	// Cached on the row: the resolver is not consulted again.
	delete(f.meetings.byKey, "805829036")
	assoc, err = f.service.Association(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, models.AssociationLocal, assoc)
}

func TestAssociationRemoteByPrefix(t *testing.T) {
	f := newFixture(t, config.RecordingConfig{})
	f.store.servers = []*models.RemoteServer{{ID: 3, Name: "north campus", KeyPrefix: "99"}}
	ctx := context.Background()

	rec, _, err := f.service.Materialize(ctx, sampleRemote("9001", "990000123"))
	require.NoError(t, err)

	assoc, err := f.service.Association(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, models.AssociationRemote, assoc)
	require.NotNil(t, rec.RemoteServer)
	assert.Equal(t, int64(3), *rec.RemoteServer)
}

func TestAssociationNone(t *testing.T) {
	f := newFixture(t, config.RecordingConfig{})
	ctx := context.Background()

	rec, _, err := f.service.Materialize(ctx, sampleRemote("9001", "123123123"))
	require.NoError(t, err)

	assoc, err := f.service.Association(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, models.AssociationNone, assoc)
	assert.Nil(t, rec.MeetingID)
	assert.Nil(t, rec.RemoteServer)
}

func TestUpdateRemoteServerReresolves(t *testing.T) {
	f := newFixture(t, config.RecordingConfig{})
	f.store.servers = []*models.RemoteServer{{ID: 3, Name: "north campus", KeyPrefix: "99"}}
	ctx := context.Background()

	rec, _, err := f.service.Materialize(ctx, sampleRemote("9001", "990000123"))
	require.NoError(t, err)
	assoc, err := f.service.Association(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, models.AssociationRemote, assoc)

	// Admin retires the 99 prefix; the stale match must not survive.
	f.store.servers = []*models.RemoteServer{{ID: 3, Name: "north campus", KeyPrefix: "77"}}
	assoc, err = f.service.UpdateRemoteServer(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, models.AssociationNone, assoc)
	assert.Nil(t, rec.RemoteServer)

	stored, err := f.store.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.RemoteServer)

	// And a prefix edit that matches again re-caches the new server.
	f.store.servers = []*models.RemoteServer{{ID: 5, Name: "east campus", KeyPrefix: "9900"}}
	assoc, err = f.service.UpdateRemoteServer(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, models.AssociationRemote, assoc)
	require.NotNil(t, rec.RemoteServer)
	assert.Equal(t, int64(5), *rec.RemoteServer)
}

func TestShouldBeDownloaded(t *testing.T) {
	ctx := context.Background()

	t.Run("policy none never downloads", func(t *testing.T) {
		f := newFixture(t, config.RecordingConfig{DownloadPolicy: config.DownloadNone})
		f.meetings.byKey["1"] = &models.Meeting{ID: 1, MeetingKey: "1"}
		rec, _, _ := f.service.Materialize(ctx, sampleRemote("a", "1"))
		got, err := f.service.ShouldBeDownloaded(ctx, rec)
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("associated only local", func(t *testing.T) {
		f := newFixture(t, config.RecordingConfig{DownloadPolicy: config.DownloadAssociated})
		f.meetings.byKey["1"] = &models.Meeting{ID: 1, MeetingKey: "1"}
		local, _, _ := f.service.Materialize(ctx, sampleRemote("a", "1"))
		orphan, _, _ := f.service.Materialize(ctx, sampleRemote("b", "2"))

		got, err := f.service.ShouldBeDownloaded(ctx, local)
		require.NoError(t, err)
		assert.True(t, got)
		got, err = f.service.ShouldBeDownloaded(ctx, orphan)
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("all skips federated", func(t *testing.T) {
		f := newFixture(t, config.RecordingConfig{DownloadPolicy: config.DownloadAll})
		f.store.servers = []*models.RemoteServer{{ID: 1, KeyPrefix: "99"}}
		orphan, _, _ := f.service.Materialize(ctx, sampleRemote("a", "2"))
		federated, _, _ := f.service.Materialize(ctx, sampleRemote("b", "990001"))

		got, err := f.service.ShouldBeDownloaded(ctx, orphan)
		require.NoError(t, err)
		assert.True(t, got)
		got, err = f.service.ShouldBeDownloaded(ctx, federated)
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("nothing to fetch without a file url", func(t *testing.T) {
		f := newFixture(t, config.RecordingConfig{DownloadPolicy: config.DownloadAll})
		rr := sampleRemote("a", "2")
		rr.FileURL = ""
		rec, _, _ := f.service.Materialize(ctx, rr)
		got, err := f.service.ShouldBeDownloaded(ctx, rec)
		require.NoError(t, err)
		assert.False(t, got)
	})
}

func TestDeleteRemoteRecordingTransition(t *testing.T) {
	f := newFixture(t, config.RecordingConfig{})
	ctx := context.Background()
	rec, _, err := f.service.Materialize(ctx, sampleRemote("9001", "1"))
	require.NoError(t, err)
	require.NoError(t, f.service.MarkDownloaded(ctx, rec, "recordings/x/y.arf", 1024, false))
	require.Equal(t, models.FileInternalAndWebex, rec.FileStatus)

	oldStream, oldFile := rec.StreamURL, rec.FileURL
	require.NoError(t, f.service.DeleteRemoteRecording(ctx, rec))

	assert.Equal(t, models.FileInternalOnly, rec.FileStatus)
	assert.Empty(t, rec.StreamURL)
	assert.Empty(t, rec.FileURL)
	assert.Equal(t, oldStream, rec.Additional[models.AdditionalOldStreamURL])
	assert.Equal(t, oldFile, rec.Additional[models.AdditionalOldFileURL])
	assert.Equal(t, []string{"9001"}, f.remote.deleted)

	// Second call is a no-op: nothing external remains.
	require.NoError(t, f.service.DeleteRemoteRecording(ctx, rec))
	assert.Len(t, f.remote.deleted, 1)
}

func TestDeleteRemoteRecordingWithoutInternalCopy(t *testing.T) {
	f := newFixture(t, config.RecordingConfig{})
	ctx := context.Background()
	rec, _, _ := f.service.Materialize(ctx, sampleRemote("9001", "1"))

	require.NoError(t, f.service.DeleteRemoteRecording(ctx, rec))
	assert.Equal(t, models.FileNone, rec.FileStatus)
}

func TestTrueDeleteOrdering(t *testing.T) {
	f := newFixture(t, config.RecordingConfig{})
	ctx := context.Background()
	rec, _, _ := f.service.Materialize(ctx, sampleRemote("9001", "1"))
	require.NoError(t, f.service.MarkDownloaded(ctx, rec, "recordings/x/y.arf", 1024, false))
	f.files.objects["recordings/x/y.arf"] = true

	require.NoError(t, f.service.TrueDelete(ctx, rec, true))
	assert.Equal(t, []string{"9001"}, f.remote.deleted)
	assert.Equal(t, []string{"recordings/x/y.arf"}, f.files.deleted)
	assert.Empty(t, f.store.rows)
}

func TestTrueDeleteAbortsOnRemoteFailure(t *testing.T) {
	f := newFixture(t, config.RecordingConfig{})
	ctx := context.Background()
	rec, _, _ := f.service.Materialize(ctx, sampleRemote("9001", "1"))
	require.NoError(t, f.service.MarkDownloaded(ctx, rec, "recordings/x/y.arf", 1024, false))
	f.files.objects["recordings/x/y.arf"] = true
	f.remote.fail = errors.New("provider down")

	err := f.service.TrueDelete(ctx, rec, true)
	require.Error(t, err)
	assert.Empty(t, f.files.deleted, "internal copy survives a provider failure")
	assert.Len(t, f.store.rows, 1, "row survives a provider failure")
}

func TestTrueDeleteByMeeting(t *testing.T) {
	f := newFixture(t, config.RecordingConfig{})
	f.meetings.byKey["805829036"] = &models.Meeting{ID: 7, MeetingKey: "805829036"}
	ctx := context.Background()

	a, _, _ := f.service.Materialize(ctx, sampleRemote("a", "805829036"))
	b, _, _ := f.service.Materialize(ctx, sampleRemote("b", "805829036"))
	_, _, _ = f.service.Materialize(ctx, sampleRemote("c", "other"))
	for _, rec := range []*models.Recording{a, b} {
		_, err := f.service.Association(ctx, rec)
		require.NoError(t, err)
	}

	require.NoError(t, f.service.TrueDeleteByMeeting(ctx, 7, true))
	assert.Len(t, f.store.rows, 1, "unrelated recording survives")
	assert.ElementsMatch(t, []string{"a", "b"}, f.remote.deleted)
}

func TestHasInternalFileVerifyCorrectsStaleFlag(t *testing.T) {
	f := newFixture(t, config.RecordingConfig{})
	ctx := context.Background()
	rec, _, _ := f.service.Materialize(ctx, sampleRemote("9001", "1"))
	require.NoError(t, f.service.MarkDownloaded(ctx, rec, "recordings/x/y.arf", 1024, false))
	// Storage lost the object behind our back.

	has, err := f.service.HasInternalFile(ctx, rec, true)
	require.NoError(t, err)
	assert.False(t, has)
	assert.Equal(t, models.FileWebexOnly, rec.FileStatus)
	assert.Empty(t, rec.StorageKey)

	has, err = f.service.HasInternalFile(ctx, rec, false)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestPurgeTrash(t *testing.T) {
	f := newFixture(t, config.RecordingConfig{TrashHoldDays: 14})
	ctx := context.Background()

	old, _, _ := f.service.Materialize(ctx, sampleRemote("old", "1"))
	fresh, _, _ := f.service.Materialize(ctx, sampleRemote("fresh", "1"))
	live, _, _ := f.service.Materialize(ctx, sampleRemote("live", "1"))

	expired := time.Now().Add(-20 * 24 * time.Hour)
	old.Deleted = &expired
	require.NoError(t, f.store.Update(ctx, old))
	require.NoError(t, f.service.Delete(ctx, fresh))

	purged, err := f.service.PurgeTrash(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	gone, _ := f.store.GetByID(ctx, old.ID)
	assert.Nil(t, gone)
	still, _ := f.store.GetByID(ctx, fresh.ID)
	assert.NotNil(t, still, "fresh trash stays through the hold")
	alive, _ := f.store.GetByID(ctx, live.ID)
	assert.NotNil(t, alive)
}

func TestSoftDeleteAndRestore(t *testing.T) {
	f := newFixture(t, config.RecordingConfig{})
	ctx := context.Background()
	rec, _, _ := f.service.Materialize(ctx, sampleRemote("9001", "1"))

	require.NoError(t, f.service.Delete(ctx, rec))
	require.NotNil(t, rec.Deleted)
	assert.False(t, rec.Visible())
	first := *rec.Deleted

	// Deleting again does not move the trash clock.
	require.NoError(t, f.service.Delete(ctx, rec))
	assert.Equal(t, first, *rec.Deleted)

	require.NoError(t, f.service.Undelete(ctx, rec))
	assert.Nil(t, rec.Deleted)
	assert.True(t, rec.Visible())
}
