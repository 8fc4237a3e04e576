package main

import (
	"os"
	"path/filepath"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mattermost/mattermost/server/public/plugin"
	"github.com/pkg/errors"
)

const (
	// BotUsername is the username for the preview bot
	BotUsername = "pcpp-preview"
	// BotDisplayName is the display name for the preview bot
	BotDisplayName = "PCPP Preview"
	// BotDescription is the description for the preview bot
	BotDescription = "Posts previews of PCPartPicker lists shared in channels"
)

// BotService manages the preview bot account
type BotService struct {
	api     plugin.API
	botID   string
	botUser *model.User
}

// NewBotService creates a new bot service
func NewBotService(api plugin.API) *BotService {
	return &BotService{
		api: api,
	}
}

// EnsureBotExists ensures the bot account exists, creating it if necessary
func (b *BotService) EnsureBotExists() error {
	user, appErr := b.api.GetUserByUsername(BotUsername)
	if appErr == nil && user != nil {
		b.botID = user.Id
		b.botUser = user
		if err := b.setBotProfileImage(); err != nil {
			b.api.LogWarn("Failed to set bot profile image", "error", err.Error())
		}
		return nil
	}

	botUser := &model.User{
		Username:            BotUsername,
		FirstName:           BotDisplayName,
		LastName:            "",
		Email:               BotUsername + "@localhost",
		Password:            model.NewId(),
		Nickname:            BotDisplayName,
		Position:            BotDescription,
		Roles:               model.SystemUserRoleId,
		Locale:              "en",
		DisableWelcomeEmail: true,
	}

	createdUser, appErr := b.api.CreateUser(botUser)
	if appErr != nil {
		return errors.Wrap(appErr, "failed to create bot user")
	}

	b.botID = createdUser.Id
	b.botUser = createdUser

	if err := b.setBotProfileImage(); err != nil {
		b.api.LogWarn("Failed to set bot profile image", "error", err.Error())
	}

	return nil
}

// setBotProfileImage sets the bot's profile image from the plugin's icon asset
func (b *BotService) setBotProfileImage() error {
	bundlePath, err := b.api.GetBundlePath()
	if err != nil {
		return errors.Wrap(err, "failed to get bundle path")
	}

	iconPath := filepath.Join(bundlePath, "assets", "icon.png")
	iconData, err := os.ReadFile(iconPath)
	if err != nil {
		return errors.Wrap(err, "failed to read icon file")
	}

	if appErr := b.api.SetProfileImage(b.botID, iconData); appErr != nil {
		return errors.Wrap(appErr, "failed to set profile image")
	}

	return nil
}

// GetBotUser returns the bot user
func (b *BotService) GetBotUser() *model.User {
	return b.botUser
}

// GetBotID returns the bot user ID
func (b *BotService) GetBotID() string {
	return b.botID
}
