package main

import (
	"reflect"
	"strconv"

	"github.com/pkg/errors"

	"github.com/ilovepcs/mattermost-plugin-pcpp-preview/server/scraper"
)

const (
	defaultFetchTimeoutSeconds = 5
	defaultCacheCapacity       = 1024
	defaultMaxTrackedMessages  = 1024
)

// configuration captures the plugin's external configuration as exposed in the Mattermost server
// configuration, as well as values computed from the configuration. Any public fields will be
// deserialized from the Mattermost server configuration in OnConfigurationChange.
//
// As plugins are inherently concurrent (hooks being called asynchronously), and the plugin
// configuration can change at any time, access to the configuration must be synchronized. The
// strategy used in this plugin is to guard a pointer to the configuration, and clone the entire
// struct whenever it changes. You may replace this with whatever strategy you choose.
type configuration struct {
	// FetchTimeoutSeconds bounds each HTTP request to PCPartPicker.
	FetchTimeoutSeconds int `json:"fetchTimeoutSeconds"`

	// CacheCapacity bounds each in-memory cache (summaries, extraction
	// results, control URL lists).
	CacheCapacity int `json:"cacheCapacity"`

	// MaxTrackedMessages bounds the persisted message records; the oldest is
	// untracked when a new message arrives at capacity.
	MaxTrackedMessages int `json:"maxTrackedMessages"`

	// YearClass selects the year-suffixed HTML classes the scraper targets.
	YearClass int `json:"yearClass"`
}

// rawConfiguration mirrors plugin.json: text settings arrive as strings and
// are parsed with defaults applied for anything blank or malformed.
type rawConfiguration struct {
	FetchTimeoutSeconds string `json:"FetchTimeoutSeconds"`
	CacheCapacity       string `json:"CacheCapacity"`
	MaxTrackedMessages  string `json:"MaxTrackedMessages"`
	YearClass           string `json:"YearClass"`
}

// Clone shallow copies the configuration. Your implementation may require a deep copy if your
// configuration has reference types.
func (c *configuration) Clone() *configuration {
	var clone = *c
	return &clone
}

// getConfiguration retrieves the active configuration under lock, making it safe to use
// concurrently. The active configuration may change underneath the client of this method, but
// the struct returned by this API call is considered immutable.
func (p *Plugin) getConfiguration() *configuration {
	p.configurationLock.RLock()
	defer p.configurationLock.RUnlock()

	if p.configuration == nil {
		return &configuration{
			FetchTimeoutSeconds: defaultFetchTimeoutSeconds,
			CacheCapacity:       defaultCacheCapacity,
			MaxTrackedMessages:  defaultMaxTrackedMessages,
			YearClass:           scraper.DefaultYearClass,
		}
	}

	return p.configuration
}

// setConfiguration replaces the active configuration under lock.
//
// Do not call setConfiguration while holding the configurationLock, as sync.Mutex is not
// reentrant. In particular, avoid using the plugin API entirely, as this may in turn trigger a
// hook back into the plugin. If that hook attempts to acquire this lock, a deadlock may occur.
//
// This method panics if setConfiguration is called with the existing configuration. This almost
// certainly means that the configuration was modified without being cloned and may result in
// an unsafe access.
func (p *Plugin) setConfiguration(configuration *configuration) {
	p.configurationLock.Lock()
	defer p.configurationLock.Unlock()

	if configuration != nil && p.configuration == configuration {
		// Ignore assignment if the configuration struct is empty. Go will optimize the
		// allocation for same to point at the same memory address, breaking the check
		// above.
		if reflect.ValueOf(*configuration).NumField() == 0 {
			return
		}

		panic("setConfiguration called with the existing configuration")
	}

	p.configuration = configuration
}

// OnConfigurationChange is invoked when configuration changes may have been made.
func (p *Plugin) OnConfigurationChange() error {
	var rawConfig = new(rawConfiguration)

	if err := p.API.LoadPluginConfiguration(rawConfig); err != nil {
		return errors.Wrap(err, "failed to load plugin configuration")
	}

	config := &configuration{
		FetchTimeoutSeconds: p.parseSetting("FetchTimeoutSeconds", rawConfig.FetchTimeoutSeconds, defaultFetchTimeoutSeconds),
		CacheCapacity:       p.parseSetting("CacheCapacity", rawConfig.CacheCapacity, defaultCacheCapacity),
		MaxTrackedMessages:  p.parseSetting("MaxTrackedMessages", rawConfig.MaxTrackedMessages, defaultMaxTrackedMessages),
		YearClass:           p.parseSetting("YearClass", rawConfig.YearClass, scraper.DefaultYearClass),
	}

	p.setConfiguration(config)

	return nil
}

// parseSetting parses a positive integer setting, falling back to its
// default when blank or malformed.
func (p *Plugin) parseSetting(name, raw string, fallback int) int {
	if raw == "" {
		return fallback
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		p.API.LogWarn("Ignoring invalid plugin setting", "setting", name, "value", raw)
		return fallback
	}
	return value
}
