package main

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mattermost/mattermost/server/public/plugin/plugintest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ilovepcs/mattermost-plugin-pcpp-preview/server/scraper"
	"github.com/ilovepcs/mattermost-plugin-pcpp-preview/server/store/kvstore"
)

// fakeRecordStore is an in-memory RecordStore preserving insertion order.
type fakeRecordStore struct {
	records map[string]*kvstore.MessageRecord
	order   []string
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{records: map[string]*kvstore.MessageRecord{}}
}

func (s *fakeRecordStore) Get(userMessageID string) (*kvstore.MessageRecord, error) {
	record, ok := s.records[userMessageID]
	if !ok {
		return nil, nil
	}
	clone := *record
	return &clone, nil
}

func (s *fakeRecordStore) Insert(record *kvstore.MessageRecord) error {
	clone := *record
	s.records[record.UserMessageID] = &clone
	s.order = append(s.order, record.UserMessageID)
	return nil
}

func (s *fakeRecordStore) Delete(userMessageID string) error {
	delete(s.records, userMessageID)
	trimmed := s.order[:0]
	for _, id := range s.order {
		if id != userMessageID {
			trimmed = append(trimmed, id)
		}
	}
	s.order = trimmed
	return nil
}

func (s *fakeRecordStore) IDs() ([]string, error) {
	return append([]string{}, s.order...), nil
}

// lifecycleFixture wires a tracker against a mocked plugin API and records
// every post operation the tracker performs.
type lifecycleFixture struct {
	api     *plugintest.API
	store   *fakeRecordStore
	tracker *MessageLifecycleTracker

	posts   map[string]*model.Post
	created []*model.Post
	updated []*model.Post
	deleted []string

	nextID int
}

func setupLifecycle(t *testing.T, maxRecords int) *lifecycleFixture {
	t.Helper()

	f := &lifecycleFixture{
		api:   &plugintest.API{},
		store: newFakeRecordStore(),
		posts: map[string]*model.Post{},
	}

	for i := 1; i <= 11; i += 2 {
		args := make([]interface{}, i)
		for j := range args {
			args[j] = mock.Anything
		}
		f.api.On("LogDebug", args...).Maybe().Return(nil)
		f.api.On("LogInfo", args...).Maybe().Return(nil)
		f.api.On("LogWarn", args...).Maybe().Return(nil)
		f.api.On("LogError", args...).Maybe().Return(nil)
	}

	f.api.On("CreatePost", mock.AnythingOfType("*model.Post")).Maybe().Return(
		func(post *model.Post) *model.Post {
			f.nextID++
			clone := post.Clone()
			clone.Id = fmt.Sprintf("bot%d", f.nextID)
			f.posts[clone.Id] = clone
			f.created = append(f.created, clone)
			return clone
		},
		func(post *model.Post) *model.AppError { return nil },
	)

	f.api.On("UpdatePost", mock.AnythingOfType("*model.Post")).Maybe().Return(
		func(post *model.Post) *model.Post {
			f.posts[post.Id] = post
			f.updated = append(f.updated, post)
			return post
		},
		func(post *model.Post) *model.AppError { return nil },
	)

	f.api.On("DeletePost", mock.AnythingOfType("string")).Maybe().Return(
		func(id string) *model.AppError {
			delete(f.posts, id)
			f.deleted = append(f.deleted, id)
			return nil
		},
	)

	f.api.On("GetPost", mock.AnythingOfType("string")).Maybe().Return(
		func(id string) *model.Post { return f.posts[id] },
		func(id string) *model.AppError {
			if _, ok := f.posts[id]; !ok {
				return model.NewAppError("GetPost", "app.post.get.app_error", nil, "", http.StatusNotFound)
			}
			return nil
		},
	)

	extractor, err := NewLinkExtractor(64)
	require.NoError(t, err)

	previews, err := NewPreviewService(f.api, "botuser", PluginID, scraper.New(nil, 0), 64)
	require.NoError(t, err)

	tracker, err := NewMessageLifecycleTracker(f.api, f.store, extractor, previews, maxRecords, 64)
	require.NoError(t, err)
	f.tracker = tracker

	return f
}

func (f *lifecycleFixture) userPost(id, message string) *model.Post {
	post := &model.Post{
		Id:        id,
		ChannelId: "channel1",
		UserId:    "user1",
		Message:   message,
		CreateAt:  1000,
	}
	f.posts[id] = post
	return post
}

const (
	validListMessage   = "look at https://pcpartpicker.com/list/abc123"
	invalidListMessage = "look at https://pcpartpicker.com/list/"
	mixedMessage       = "https://pcpartpicker.com/list/abc123 and https://pcpartpicker.com/list/"
	plainMessage       = "no links here"
)

func TestHandleCreateIgnoresPlainMessages(t *testing.T) {
	f := setupLifecycle(t, 8)

	f.tracker.HandleCreate(f.userPost("msg1", plainMessage))

	assert.Empty(t, f.created)
	assert.Empty(t, f.store.records)
}

func TestHandleCreatePostsBothReplies(t *testing.T) {
	f := setupLifecycle(t, 8)

	f.tracker.HandleCreate(f.userPost("msg1", validListMessage))

	require.Len(t, f.created, 2)
	preview, invalid := f.created[0], f.created[1]

	assert.Contains(t, preview.Message, "These are the previews for the following links:")
	assert.Contains(t, preview.Message, "https://pcpartpicker.com/list/abc123")
	assert.Equal(t, "msg1", preview.RootId)
	assert.NotEmpty(t, preview.Attachments())

	assert.Equal(t, noInvalidPlaceholder, invalid.Message)
	assert.Equal(t, "msg1", invalid.RootId)

	record, err := f.store.Get("msg1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, preview.Id, record.PreviewMessageID)
	assert.Equal(t, invalid.Id, record.InvalidMessageID)
	assert.Equal(t, "channel1", record.ChannelID)
}

func TestHandleCreateInvalidOnly(t *testing.T) {
	f := setupLifecycle(t, 8)

	f.tracker.HandleCreate(f.userPost("msg1", invalidListMessage))

	require.Len(t, f.created, 2)
	assert.Equal(t, noPreviewPlaceholder, f.created[0].Message)
	assert.Contains(t, f.created[1].Message, "is invalid")
}

func TestHandleCreateMixedMessage(t *testing.T) {
	f := setupLifecycle(t, 8)

	f.tracker.HandleCreate(f.userPost("msg1", mixedMessage))

	require.Len(t, f.created, 2)
	assert.Contains(t, f.created[0].Message, "https://pcpartpicker.com/list/abc123")
	assert.Contains(t, f.created[1].Message, "is invalid")
}

func TestHandleCreateRemovesOrphanWhenSecondReplyFails(t *testing.T) {
	f := setupLifecycle(t, 8)

	// Fail every CreatePost after the first.
	failing := &plugintest.API{}
	f.api = failing
	calls := 0
	failing.On("LogError", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe().Return(nil)
	failing.On("CreatePost", mock.AnythingOfType("*model.Post")).Return(
		func(post *model.Post) *model.Post {
			calls++
			if calls > 1 {
				return nil
			}
			clone := post.Clone()
			clone.Id = "bot1"
			return clone
		},
		func(post *model.Post) *model.AppError {
			if calls > 1 {
				return model.NewAppError("CreatePost", "app.post.create.app_error", nil, "", http.StatusInternalServerError)
			}
			return nil
		},
	)
	failing.On("DeletePost", "bot1").Return(nil).Once()

	extractor, err := NewLinkExtractor(64)
	require.NoError(t, err)
	previews, err := NewPreviewService(failing, "botuser", PluginID, scraper.New(nil, 0), 64)
	require.NoError(t, err)
	tracker, err := NewMessageLifecycleTracker(failing, f.store, extractor, previews, 8, 64)
	require.NoError(t, err)

	tracker.HandleCreate(&model.Post{Id: "msg1", ChannelId: "channel1", Message: validListMessage})

	failing.AssertExpectations(t)
	assert.Empty(t, f.store.records)
}

func TestHandleCreateEvictsOldestAtCapacity(t *testing.T) {
	f := setupLifecycle(t, 2)

	f.tracker.HandleCreate(f.userPost("msg1", validListMessage))
	f.tracker.HandleCreate(f.userPost("msg2", validListMessage))
	f.tracker.HandleCreate(f.userPost("msg3", validListMessage))

	ids, err := f.store.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"msg2", "msg3"}, ids)

	// Eviction only untracks; the oldest message's replies are left alone.
	assert.Empty(t, f.deleted)
}

func TestSyncRecordCountRestoresCapacityBound(t *testing.T) {
	f := setupLifecycle(t, 2)

	require.NoError(t, f.store.Insert(&kvstore.MessageRecord{UserMessageID: "old1"}))
	require.NoError(t, f.store.Insert(&kvstore.MessageRecord{UserMessageID: "old2"}))
	require.NoError(t, f.tracker.SyncRecordCount())

	f.tracker.HandleCreate(f.userPost("msg1", validListMessage))

	ids, err := f.store.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"old2", "msg1"}, ids)
}

func TestHandleEditUntrackedIsNoOp(t *testing.T) {
	f := setupLifecycle(t, 8)

	f.tracker.HandleEdit(f.userPost("msg1", validListMessage))

	assert.Empty(t, f.created)
	assert.Empty(t, f.updated)
	assert.Empty(t, f.store.records)
}

func TestHandleEditEquivalentContentIsNoOp(t *testing.T) {
	f := setupLifecycle(t, 8)

	post := f.userPost("msg1", validListMessage)
	f.tracker.HandleCreate(post)

	post.Message = "look again at https://pcpartpicker.com/list/abc123"
	f.tracker.HandleEdit(post)

	assert.Empty(t, f.updated)
}

func TestHandleEditRewritesPreviewForNewURLs(t *testing.T) {
	f := setupLifecycle(t, 8)

	post := f.userPost("msg1", validListMessage)
	f.tracker.HandleCreate(post)
	previewID := f.created[0].Id

	post.Message = "now https://pcpartpicker.com/list/zzz999"
	post.EditAt = 2000
	f.tracker.HandleEdit(post)

	require.Len(t, f.updated, 1)
	assert.Equal(t, previewID, f.updated[0].Id)
	assert.Contains(t, f.updated[0].Message, "https://pcpartpicker.com/list/zzz999")
	assert.NotContains(t, f.updated[0].Message, "abc123")
}

func TestHandleEditAddsInvalidWarning(t *testing.T) {
	f := setupLifecycle(t, 8)

	post := f.userPost("msg1", validListMessage)
	f.tracker.HandleCreate(post)
	invalidID := f.created[1].Id

	post.Message = mixedMessage
	f.tracker.HandleEdit(post)

	// Preview keeps its URL, the invalid slot flips from placeholder to
	// warning.
	require.Len(t, f.updated, 2)
	assert.Equal(t, invalidID, f.updated[1].Id)
	assert.Contains(t, f.updated[1].Message, "is invalid")
}

func TestHandleEditClearsInvalidWarning(t *testing.T) {
	f := setupLifecycle(t, 8)

	post := f.userPost("msg1", mixedMessage)
	f.tracker.HandleCreate(post)
	invalidID := f.created[1].Id

	post.Message = validListMessage
	f.tracker.HandleEdit(post)

	require.Len(t, f.updated, 2)
	assert.Equal(t, invalidID, f.updated[1].Id)
	assert.Equal(t, noInvalidPlaceholder, f.updated[1].Message)
}

func TestHandleEditDropsURLsKeepsInvalid(t *testing.T) {
	f := setupLifecycle(t, 8)

	post := f.userPost("msg1", mixedMessage)
	f.tracker.HandleCreate(post)
	previewID := f.created[0].Id

	post.Message = invalidListMessage
	f.tracker.HandleEdit(post)

	// Preview flips to placeholder; the warning is already in place and is
	// not rewritten.
	require.Len(t, f.updated, 1)
	assert.Equal(t, previewID, f.updated[0].Id)
	assert.Equal(t, noPreviewPlaceholder, f.updated[0].Message)
}

func TestHandleEditToNoLinksRemovesReplies(t *testing.T) {
	f := setupLifecycle(t, 8)

	post := f.userPost("msg1", validListMessage)
	f.tracker.HandleCreate(post)
	previewID, invalidID := f.created[0].Id, f.created[1].Id

	post.Message = plainMessage
	f.tracker.HandleEdit(post)

	assert.ElementsMatch(t, []string{previewID, invalidID}, f.deleted)
	assert.Empty(t, f.store.records)
}

func TestHandleEditRecoversPriorStateAfterRestart(t *testing.T) {
	f := setupLifecycle(t, 8)

	post := f.userPost("msg1", validListMessage)
	f.tracker.HandleCreate(post)
	record, err := f.store.Get("msg1")
	require.NoError(t, err)
	require.NotNil(t, record)

	// A fresh tracker has no cached extraction for msg1 and must recover the
	// prior state from the bot messages themselves.
	extractor, err := NewLinkExtractor(64)
	require.NoError(t, err)
	previews, err := NewPreviewService(f.api, "botuser", PluginID, scraper.New(nil, 0), 64)
	require.NoError(t, err)
	fresh, err := NewMessageLifecycleTracker(f.api, f.store, extractor, previews, 8, 64)
	require.NoError(t, err)
	require.NoError(t, fresh.SyncRecordCount())

	post.Message = mixedMessage
	fresh.HandleEdit(post)

	require.Len(t, f.updated, 2)
	assert.Equal(t, record.PreviewMessageID, f.updated[0].Id)
	assert.Equal(t, record.InvalidMessageID, f.updated[1].Id)
	assert.Contains(t, f.updated[1].Message, "is invalid")
}

func TestHandleDeleteRemovesRepliesAndRecord(t *testing.T) {
	f := setupLifecycle(t, 8)

	post := f.userPost("msg1", validListMessage)
	f.tracker.HandleCreate(post)
	previewID, invalidID := f.created[0].Id, f.created[1].Id

	f.tracker.HandleDelete(post)

	assert.ElementsMatch(t, []string{previewID, invalidID}, f.deleted)
	assert.Empty(t, f.store.records)
}

func TestHandleDeleteUntrackedIsNoOp(t *testing.T) {
	f := setupLifecycle(t, 8)

	f.tracker.HandleDelete(f.userPost("msg1", plainMessage))

	assert.Empty(t, f.deleted)
}
