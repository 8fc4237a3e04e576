package main

import (
	"sync"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mattermost/mattermost/server/public/plugin"
	"github.com/pkg/errors"

	"github.com/ilovepcs/mattermost-plugin-pcpp-preview/server/cache"
	"github.com/ilovepcs/mattermost-plugin-pcpp-preview/server/store/kvstore"
)

// MessageLifecycleTracker keeps bot replies consistent with the user
// messages that produced them. Every tracked message has exactly two
// replies, a preview slot and an invalid-link slot, each holding either real
// content or its placeholder. Creates fill both slots, edits rewrite the
// slots whose state changed, deletes remove both.
type MessageLifecycleTracker struct {
	api       plugin.API
	store     kvstore.RecordStore
	extractor *LinkExtractor
	previews  *PreviewService

	// priorResults remembers the last extraction per tracked message so
	// content-equivalent edits short-circuit. Misses fall back to inspecting
	// the bot messages themselves.
	priorResults *cache.LRU[string, ExtractionResult]

	maxRecords int

	// mu serializes record mutation so the count stays exact under
	// concurrent hook delivery.
	mu          sync.Mutex
	recordCount int
}

// NewMessageLifecycleTracker wires the tracker. maxRecords bounds the number
// of tracked messages; the oldest record is untracked to admit a new one.
func NewMessageLifecycleTracker(api plugin.API, store kvstore.RecordStore, extractor *LinkExtractor, previews *PreviewService, maxRecords, cacheCapacity int) (*MessageLifecycleTracker, error) {
	priorResults, err := cache.New[string, ExtractionResult](cacheCapacity)
	if err != nil {
		return nil, err
	}

	return &MessageLifecycleTracker{
		api:          api,
		store:        store,
		extractor:    extractor,
		previews:     previews,
		priorResults: priorResults,
		maxRecords:   maxRecords,
	}, nil
}

// SyncRecordCount re-derives the record count from the store. Called on
// activation so the capacity bound survives restarts.
func (t *MessageLifecycleTracker) SyncRecordCount() error {
	ids, err := t.store.IDs()
	if err != nil {
		return errors.Wrap(err, "failed to load record index")
	}

	t.mu.Lock()
	t.recordCount = len(ids)
	t.mu.Unlock()
	return nil
}

// HandleCreate reacts to a new user message. Messages without PCPartPicker
// links are ignored; anything else gets both replies and a record.
func (t *MessageLifecycleTracker) HandleCreate(post *model.Post) {
	result := t.extractor.Extract(post.Message)
	if !result.HasAny() {
		return
	}

	preview, err := t.sendPreviewSlot(post, result)
	if err != nil {
		t.api.LogError("Failed to create preview reply", "postID", post.Id, "error", err.Error())
		return
	}

	invalid, err := t.sendInvalidSlot(post, result)
	if err != nil {
		t.api.LogError("Failed to create invalid-link reply", "postID", post.Id, "error", err.Error())
		// Both replies or none. Remove the preview so a later edit cannot
		// find half a pair.
		if appErr := t.api.DeletePost(preview.Id); appErr != nil {
			t.api.LogError("Failed to remove orphaned preview reply", "postID", preview.Id, "error", appErr.Error())
		}
		return
	}

	record := &kvstore.MessageRecord{
		UserMessageID:    post.Id,
		PreviewMessageID: preview.Id,
		InvalidMessageID: invalid.Id,
		ChannelID:        post.ChannelId,
	}
	if err := t.insertRecord(record); err != nil {
		t.api.LogError("Failed to track message, edits and deletes will not propagate",
			"postID", post.Id, "error", err.Error())
		return
	}

	t.priorResults.Add(post.Id, result)
}

// HandleEdit reacts to an edited user message. Untracked messages are
// ignored, even when the edit introduces links. Editing away every link is
// treated as a delete.
func (t *MessageLifecycleTracker) HandleEdit(post *model.Post) {
	record, err := t.store.Get(post.Id)
	if err != nil {
		t.api.LogError("Failed to look up message record", "postID", post.Id, "error", err.Error())
		return
	}
	if record == nil {
		return
	}

	result := t.extractor.Extract(post.Message)
	if !result.HasAny() {
		t.HandleDelete(post)
		return
	}

	prior, priorKnown := t.priorResults.Get(post.Id)
	if priorKnown && result.Equal(prior) {
		return
	}

	hadURLs, hadInvalid := t.priorState(record, prior, priorKnown)

	if len(result.URLs) > 0 {
		err = t.previews.EditPreview(record.PreviewMessageID, post, result.URLs)
	} else if hadURLs {
		err = t.previews.EditPlaceholder(record.PreviewMessageID, noPreviewPlaceholder)
	}
	if err != nil {
		t.logPlatformError("Failed to propagate edit to preview reply", record.PreviewMessageID, err)
	}

	err = nil
	if result.InvalidLink != "" {
		if !hadInvalid {
			err = t.previews.EditInvalidWarning(record.InvalidMessageID)
		}
	} else if hadInvalid {
		err = t.previews.EditPlaceholder(record.InvalidMessageID, noInvalidPlaceholder)
	}
	if err != nil {
		t.logPlatformError("Failed to propagate edit to invalid-link reply", record.InvalidMessageID, err)
	}

	t.priorResults.Add(post.Id, result)
}

// HandleDelete reacts to a deleted user message by removing both replies and
// the record. Untracked messages are ignored.
func (t *MessageLifecycleTracker) HandleDelete(post *model.Post) {
	record, err := t.store.Get(post.Id)
	if err != nil {
		t.api.LogError("Failed to look up message record", "postID", post.Id, "error", err.Error())
		return
	}
	if record == nil {
		return
	}

	for _, id := range []string{record.PreviewMessageID, record.InvalidMessageID} {
		if appErr := t.api.DeletePost(id); appErr != nil {
			// The reply may already be gone; tracking cleanup still proceeds.
			t.api.LogWarn("Failed to delete bot reply", "postID", id, "error", appErr.Error())
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.store.Delete(post.Id); err != nil {
		t.api.LogError("Failed to delete message record", "postID", post.Id, "error", err.Error())
		return
	}
	t.recordCount--
	t.priorResults.Remove(post.Id)
}

func (t *MessageLifecycleTracker) sendPreviewSlot(post *model.Post, result ExtractionResult) (*model.Post, error) {
	if len(result.URLs) > 0 {
		return t.previews.SendPreview(post, result.URLs)
	}
	return t.previews.SendPlaceholder(post, noPreviewPlaceholder)
}

func (t *MessageLifecycleTracker) sendInvalidSlot(post *model.Post, result ExtractionResult) (*model.Post, error) {
	if result.InvalidLink != "" {
		return t.previews.SendInvalidWarning(post)
	}
	return t.previews.SendPlaceholder(post, noInvalidPlaceholder)
}

// insertRecord stores a new record, untracking the oldest one first when the
// table is full.
func (t *MessageLifecycleTracker) insertRecord(record *kvstore.MessageRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.recordCount >= t.maxRecords {
		ids, err := t.store.IDs()
		if err != nil {
			return errors.Wrap(err, "failed to load record index for eviction")
		}
		if len(ids) > 0 {
			if err := t.store.Delete(ids[0]); err != nil {
				return errors.Wrap(err, "failed to evict oldest record")
			}
			t.recordCount--
			t.priorResults.Remove(ids[0])
		}
	}

	if err := t.store.Insert(record); err != nil {
		return err
	}
	t.recordCount++
	return nil
}

// priorState reports whether the message's previous revision had scrapable
// URLs and an invalid link. When the last extraction is not cached, the
// state is recovered from the bot messages: a slot holding its placeholder
// had nothing.
func (t *MessageLifecycleTracker) priorState(record *kvstore.MessageRecord, prior ExtractionResult, priorKnown bool) (hadURLs, hadInvalid bool) {
	if priorKnown {
		return len(prior.URLs) > 0, prior.InvalidLink != ""
	}

	hadURLs = !t.slotIsPlaceholder(record.PreviewMessageID, noPreviewPlaceholder)
	hadInvalid = !t.slotIsPlaceholder(record.InvalidMessageID, noInvalidPlaceholder)
	return hadURLs, hadInvalid
}

func (t *MessageLifecycleTracker) slotIsPlaceholder(botMessageID, placeholder string) bool {
	post, appErr := t.api.GetPost(botMessageID)
	if appErr != nil {
		t.api.LogWarn("Failed to inspect bot reply", "postID", botMessageID, "error", appErr.Error())
		return false
	}
	return post.Message == placeholder
}

func (t *MessageLifecycleTracker) logPlatformError(message, postID string, err error) {
	t.api.LogError(message, "postID", postID, "error", err.Error())
}
