package main

import (
	"fmt"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mattermost/mattermost/server/public/plugin"
	"github.com/pkg/errors"

	"github.com/ilovepcs/mattermost-plugin-pcpp-preview/server/cache"
	"github.com/ilovepcs/mattermost-plugin-pcpp-preview/server/scraper"
)

const (
	// noPreviewPlaceholder and noInvalidPlaceholder stand in for "nothing to
	// show" so every tracked message always has exactly two bot replies.
	noPreviewPlaceholder = "No PCPP previews available."
	noInvalidPlaceholder = "No invalid PCPP links detected."

	invalidLinkWarning = "**One or more of your PCPartPicker link(s) is invalid. " +
		"These links only make the associated list viewable to you. " +
		"Please refer to the image below for guidance.**\n\n" +
		"![How to share a public list](https://i.imgur.com/O0TFvRc.jpeg)"

	contextDescriptorKey = "descriptor"
)

// PreviewService renders and delivers list previews: thread replies on the
// original message, in-place edits during lifecycle propagation and
// ephemeral previews from interactive controls. Summaries are memoized per
// URL so the same list is scraped once.
type PreviewService struct {
	api       plugin.API
	botID     string
	pluginID  string
	scraper   *scraper.Scraper
	summaries *cache.LRU[string, string]
}

// NewPreviewService creates a preview service caching up to cacheCapacity
// formatted summaries.
func NewPreviewService(api plugin.API, botID, pluginID string, sc *scraper.Scraper, cacheCapacity int) (*PreviewService, error) {
	summaries, err := cache.New[string, string](cacheCapacity)
	if err != nil {
		return nil, err
	}

	return &PreviewService{
		api:       api,
		botID:     botID,
		pluginID:  pluginID,
		scraper:   sc,
		summaries: summaries,
	}, nil
}

// Summary returns the formatted summary for url, scraping on a cache miss.
// Scrape failures degrade to rendered error text, never to an error: the
// user always gets a reply.
func (s *PreviewService) Summary(url string) string {
	summary, _ := s.summaries.GetOrCompute(url, func() (string, error) {
		listing, err := s.scraper.Scrape(url)
		if err != nil {
			s.api.LogWarn("Failed to scrape list", "url", url, "error", err.Error())
			return scraper.RenderError(err), nil
		}
		return scraper.Format(listing), nil
	})
	return summary
}

// SendPreview replies to userPost with the detected links and an interactive
// control that fetches previews on demand.
func (s *PreviewService) SendPreview(userPost *model.Post, urls []string) (*model.Post, error) {
	reply := s.replyTo(userPost)
	reply.Message = previewBody(urls)
	model.ParseSlackAttachment(reply, []*model.SlackAttachment{s.controlAttachment(userPost, userPost.CreateAt, urls)})

	created, appErr := s.api.CreatePost(reply)
	if appErr != nil {
		return nil, errors.Wrap(appErr, "failed to create preview message")
	}
	return created, nil
}

// SendInvalidWarning replies to userPost with the invalid-link guidance.
func (s *PreviewService) SendInvalidWarning(userPost *model.Post) (*model.Post, error) {
	reply := s.replyTo(userPost)
	reply.Message = invalidLinkWarning

	created, appErr := s.api.CreatePost(reply)
	if appErr != nil {
		return nil, errors.Wrap(appErr, "failed to create invalid-link message")
	}
	return created, nil
}

// SendPlaceholder replies to userPost with one of the fixed placeholders.
func (s *PreviewService) SendPlaceholder(userPost *model.Post, text string) (*model.Post, error) {
	reply := s.replyTo(userPost)
	reply.Message = text

	created, appErr := s.api.CreatePost(reply)
	if appErr != nil {
		return nil, errors.Wrap(appErr, "failed to create placeholder message")
	}
	return created, nil
}

// EditPreview rewrites an existing preview message for the edited userPost.
func (s *PreviewService) EditPreview(botMessageID string, userPost *model.Post, urls []string) error {
	post, appErr := s.api.GetPost(botMessageID)
	if appErr != nil {
		return errors.Wrap(appErr, "failed to get preview message")
	}

	post.Message = previewBody(urls)
	model.ParseSlackAttachment(post, []*model.SlackAttachment{s.controlAttachment(userPost, userPost.EditAt, urls)})

	if _, appErr := s.api.UpdatePost(post); appErr != nil {
		return errors.Wrap(appErr, "failed to update preview message")
	}
	return nil
}

// EditInvalidWarning converts a bot message into the invalid-link warning.
func (s *PreviewService) EditInvalidWarning(botMessageID string) error {
	return s.editPlain(botMessageID, invalidLinkWarning)
}

// EditPlaceholder converts a bot message into a placeholder, dropping any
// interactive control it carried.
func (s *PreviewService) EditPlaceholder(botMessageID, text string) error {
	return s.editPlain(botMessageID, text)
}

func (s *PreviewService) editPlain(botMessageID, text string) error {
	post, appErr := s.api.GetPost(botMessageID)
	if appErr != nil {
		return errors.Wrap(appErr, "failed to get bot message")
	}

	post.Message = text
	post.DelProp("attachments")

	if _, appErr := s.api.UpdatePost(post); appErr != nil {
		return errors.Wrap(appErr, "failed to update bot message")
	}
	return nil
}

// SendEphemeralPreview delivers the summary for url to one user only.
func (s *PreviewService) SendEphemeralPreview(userID, channelID, url string) {
	s.api.SendEphemeralPost(userID, &model.Post{
		UserId:    s.botID,
		ChannelId: channelID,
		Message:   s.Summary(url),
	})
}

func (s *PreviewService) replyTo(userPost *model.Post) *model.Post {
	rootID := userPost.Id
	if userPost.RootId != "" {
		rootID = userPost.RootId
	}

	return &model.Post{
		UserId:    s.botID,
		ChannelId: userPost.ChannelId,
		RootId:    rootID,
	}
}

// controlAttachment builds the interactive control for a preview message: a
// single button for one URL, a select menu (capped at the platform limit)
// for several.
func (s *PreviewService) controlAttachment(userPost *model.Post, timestamp int64, urls []string) *model.SlackAttachment {
	kind := ControlButton
	if len(urls) > 1 {
		kind = ControlMenu
	}

	descriptor := ControlDescriptor{
		Kind:      kind,
		ChannelID: userPost.ChannelId,
		MessageID: userPost.Id,
		Timestamp: timestamp,
	}

	integration := &model.PostActionIntegration{
		URL: fmt.Sprintf("/plugins/%s/api/v1/action/preview", s.pluginID),
		Context: map[string]interface{}{
			contextDescriptorKey: descriptor.String(),
		},
	}

	action := &model.PostAction{
		Name:        "View Preview",
		Type:        model.PostActionTypeButton,
		Integration: integration,
	}
	if kind == ControlMenu {
		options := make([]*model.PostActionOptions, 0, maxMenuOptions)
		for i, url := range urls {
			if i == maxMenuOptions {
				break
			}
			options = append(options, &model.PostActionOptions{
				Text:  fmt.Sprintf("List Preview %d", i+1),
				Value: url,
			})
		}
		action = &model.PostAction{
			Name:        "View Previews",
			Type:        model.PostActionTypeSelect,
			Options:     options,
			Integration: integration,
		}
	}

	return &model.SlackAttachment{Actions: []*model.PostAction{action}}
}

func previewBody(urls []string) string {
	return "These are the previews for the following links:\n" + strings.Join(urls, "\n")
}
