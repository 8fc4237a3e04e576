package main

import (
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mattermost/mattermost/server/public/plugin"
	"github.com/pkg/errors"

	"github.com/ilovepcs/mattermost-plugin-pcpp-preview/server/cache"
	"github.com/ilovepcs/mattermost-plugin-pcpp-preview/server/scraper"
	"github.com/ilovepcs/mattermost-plugin-pcpp-preview/server/store/kvstore"
)

// PluginID must match the id in plugin.json; it anchors the integration URLs
// carried by interactive controls.
const PluginID = "com.ilovepcs.pcpp-preview"

// Plugin implements the interface expected by the Mattermost server to communicate between the server and plugin processes.
type Plugin struct {
	plugin.MattermostPlugin

	// configurationLock synchronizes access to the configuration.
	configurationLock sync.RWMutex

	// configuration is the active plugin configuration. Consult getConfiguration and
	// setConfiguration for usage.
	configuration *configuration

	// botService manages the preview bot account.
	botService *BotService

	// recordStore persists user-message-to-bot-reply records.
	recordStore kvstore.RecordStore

	// extractor finds PCPartPicker URLs in post messages.
	extractor *LinkExtractor

	// previewService renders and delivers list previews.
	previewService *PreviewService

	// tracker propagates create/edit/delete events to the bot replies.
	tracker *MessageLifecycleTracker

	// urlLists caches the URL list behind each interactive control, keyed by
	// the control's descriptor.
	urlLists *cache.LRU[string, []string]
}

// OnActivate is invoked when the plugin is activated. If an error is returned, the plugin will be deactivated.
func (p *Plugin) OnActivate() error {
	config := p.getConfiguration()

	p.botService = NewBotService(p.API)
	if err := p.botService.EnsureBotExists(); err != nil {
		return errors.Wrap(err, "failed to ensure bot account exists")
	}

	p.recordStore = kvstore.NewRecordStore(p.API)

	fetcher := scraper.NewHTTPFetcher(time.Duration(config.FetchTimeoutSeconds) * time.Second)
	sc := scraper.New(fetcher, config.YearClass)

	extractor, err := NewLinkExtractor(config.CacheCapacity)
	if err != nil {
		return errors.Wrap(err, "failed to create link extractor")
	}
	p.extractor = extractor

	previewService, err := NewPreviewService(p.API, p.botService.GetBotID(), PluginID, sc, config.CacheCapacity)
	if err != nil {
		return errors.Wrap(err, "failed to create preview service")
	}
	p.previewService = previewService

	tracker, err := NewMessageLifecycleTracker(p.API, p.recordStore, p.extractor, p.previewService, config.MaxTrackedMessages, config.CacheCapacity)
	if err != nil {
		return errors.Wrap(err, "failed to create lifecycle tracker")
	}
	p.tracker = tracker

	if err := p.tracker.SyncRecordCount(); err != nil {
		return errors.Wrap(err, "failed to sync record count")
	}

	urlLists, err := cache.New[string, []string](config.CacheCapacity)
	if err != nil {
		return errors.Wrap(err, "failed to create URL list cache")
	}
	p.urlLists = urlLists

	return nil
}

// MessageHasBeenPosted is invoked when a message has been posted by a user.
// This hook is called after the message has been committed to the database.
//
// Processing is synchronous: the replies for one event are fully created
// before a later event for the same message can observe them.
func (p *Plugin) MessageHasBeenPosted(c *plugin.Context, post *model.Post) {
	if p.isOwnPost(post) {
		return
	}

	p.tracker.HandleCreate(post)
}

// MessageHasBeenUpdated is invoked when a message has been edited.
func (p *Plugin) MessageHasBeenUpdated(c *plugin.Context, newPost, oldPost *model.Post) {
	if p.isOwnPost(newPost) {
		return
	}

	// Prop-only updates (reactions resolving, attachments rendering) carry
	// the same text and never change the replies.
	if oldPost != nil && newPost.Message == oldPost.Message {
		return
	}

	p.tracker.HandleEdit(newPost)
}

// MessageHasBeenDeleted is invoked when a message has been deleted.
func (p *Plugin) MessageHasBeenDeleted(c *plugin.Context, post *model.Post) {
	if p.isOwnPost(post) {
		return
	}

	p.tracker.HandleDelete(post)
}

// isOwnPost reports whether post was authored by the preview bot itself.
func (p *Plugin) isOwnPost(post *model.Post) bool {
	return p.botService != nil && post.UserId == p.botService.GetBotID()
}
