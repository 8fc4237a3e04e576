package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mattermost/mattermost/server/public/plugin"
)

// ServeHTTP routes the plugin's HTTP surface: the integration endpoint
// behind interactive controls plus two admin endpoints.
// The root URL is <siteUrl>/plugins/com.ilovepcs.pcpp-preview/api/v1/.
func (p *Plugin) ServeHTTP(c *plugin.Context, w http.ResponseWriter, r *http.Request) {
	router := mux.NewRouter()

	// Middleware to require that the user is logged in
	router.Use(p.MattermostAuthorizationRequired)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()

	apiRouter.HandleFunc("/action/preview", p.HandlePreviewAction).Methods(http.MethodPost)
	apiRouter.HandleFunc("/config", p.GetConfig).Methods(http.MethodGet)
	apiRouter.HandleFunc("/records/{postId}", p.GetRecord).Methods(http.MethodGet)

	router.ServeHTTP(w, r)
}

func (p *Plugin) MattermostAuthorizationRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("Mattermost-User-ID")
		if userID == "" {
			p.API.LogWarn("Missing Mattermost-User-ID header in request", "path", r.URL.Path, "method", r.Method)
			http.Error(w, "Not authorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HandlePreviewAction serves button presses and menu selections on preview
// messages. The control carries only a descriptor of the original user
// message; the URL list is re-resolved from that message, so controls keep
// working after a restart.
func (p *Plugin) HandlePreviewAction(w http.ResponseWriter, r *http.Request) {
	var request model.PostActionIntegrationRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	raw, ok := request.Context[contextDescriptorKey].(string)
	if !ok {
		http.Error(w, "Missing control descriptor", http.StatusBadRequest)
		return
	}

	descriptor, err := ParseControlDescriptor(raw)
	if err != nil {
		p.API.LogWarn("Rejected malformed control descriptor", "descriptor", raw, "error", err.Error())
		http.Error(w, "Malformed control descriptor", http.StatusBadRequest)
		return
	}

	urls, err := p.controlURLs(descriptor)
	if err != nil {
		p.API.LogWarn("Failed to resolve control URL list", "postID", descriptor.MessageID, "error", err.Error())
		http.Error(w, "Original message unavailable", http.StatusGone)
		return
	}
	if len(urls) == 0 {
		http.Error(w, "Original message no longer has previewable links", http.StatusGone)
		return
	}

	url := urls[0]
	if descriptor.Kind == ControlMenu {
		selected, _ := request.Context["selected_option"].(string)
		if !containsURL(urls, selected) {
			http.Error(w, "Selection does not match the original message", http.StatusBadRequest)
			return
		}
		url = selected
	}

	p.previewService.SendEphemeralPreview(request.UserId, request.ChannelId, url)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&model.PostActionIntegrationResponse{}); err != nil {
		p.API.LogError("Failed to encode action response", "error", err.Error())
	}
}

// controlURLs resolves the scrapable URLs behind a control, re-extracting
// from the live original message on a cache miss.
func (p *Plugin) controlURLs(descriptor ControlDescriptor) ([]string, error) {
	return p.urlLists.GetOrCompute(descriptor.String(), func() ([]string, error) {
		post, appErr := p.API.GetPost(descriptor.MessageID)
		if appErr != nil {
			return nil, appErr
		}
		return p.extractor.Extract(post.Message).URLs, nil
	})
}

func containsURL(urls []string, url string) bool {
	for _, u := range urls {
		if u == url {
			return true
		}
	}
	return false
}

// GetConfig returns the current plugin configuration (admin only)
func (p *Plugin) GetConfig(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("Mattermost-User-ID")

	user, appErr := p.API.GetUser(userID)
	if appErr != nil || !user.IsInRole(model.SystemAdminRoleId) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(p.getConfiguration()); err != nil {
		p.API.LogError("Failed to encode config", "error", err.Error())
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// GetRecord returns the tracking record for a user message, if any.
func (p *Plugin) GetRecord(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("Mattermost-User-ID")

	vars := mux.Vars(r)
	postID := vars["postId"]
	if postID == "" {
		http.Error(w, "Post ID is required", http.StatusBadRequest)
		return
	}

	record, err := p.recordStore.Get(postID)
	if err != nil {
		p.API.LogError("Failed to load message record", "postID", postID, "error", err.Error())
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if record == nil {
		http.Error(w, "Record not found", http.StatusNotFound)
		return
	}

	// Only members of the channel may inspect its records.
	channel, appErr := p.API.GetChannel(record.ChannelID)
	if appErr != nil {
		http.Error(w, "Channel not found", http.StatusNotFound)
		return
	}
	if !channel.IsOpen() && !channel.IsGroupOrDirect() {
		member, appErr := p.API.GetChannelMember(record.ChannelID, userID)
		if appErr != nil || member == nil {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(record); err != nil {
		p.API.LogError("Failed to encode record", "error", err.Error())
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
