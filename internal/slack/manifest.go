package slack

import (
	"encoding/json"
	"net/url"
)

// BotScopes lists every OAuth scope the connector needs: reading messages
// and reactions across channels, groups, and DMs, posting with per-persona
// identity, and moving files both ways.
var BotScopes = []string{
	"app_mentions:read",
	"channels:history",
	"channels:read",
	"chat:write",
	"chat:write.customize",
	"files:read",
	"files:write",
	"groups:history",
	"groups:read",
	"im:history",
	"im:read",
	"reactions:read",
	"reactions:write",
}

// BotEvents lists the event subscriptions the connector consumes.
var BotEvents = []string{
	"app_mention",
	"message.channels",
	"message.groups",
	"message.im",
	"reaction_added",
}

// Manifest mirrors the Slack app manifest schema, reduced to the fields
// troupe configures.
type Manifest struct {
	DisplayInformation ManifestDisplay  `json:"display_information"`
	Features           ManifestFeatures `json:"features"`
	OAuthConfig        ManifestOAuth    `json:"oauth_config"`
	Settings           ManifestSettings `json:"settings"`
}

// ManifestDisplay names the app in the Slack directory.
type ManifestDisplay struct {
	Name string `json:"name"`
}

// ManifestFeatures declares the bot user.
type ManifestFeatures struct {
	BotUser ManifestBotUser `json:"bot_user"`
}

// ManifestBotUser configures the bot's display name and presence.
type ManifestBotUser struct {
	DisplayName  string `json:"display_name"`
	AlwaysOnline bool   `json:"always_online"`
}

// ManifestOAuth holds the OAuth scope block.
type ManifestOAuth struct {
	Scopes ManifestScopes `json:"scopes"`
}

// ManifestScopes lists bot token scopes.
type ManifestScopes struct {
	Bot []string `json:"bot"`
}

// ManifestSettings covers events, interactivity, and connection mode.
type ManifestSettings struct {
	EventSubscriptions   ManifestEvents        `json:"event_subscriptions"`
	Interactivity        ManifestInteractivity `json:"interactivity"`
	OrgDeployEnabled     bool                  `json:"org_deploy_enabled"`
	SocketModeEnabled    bool                  `json:"socket_mode_enabled"`
	TokenRotationEnabled bool                  `json:"token_rotation_enabled"`
}

// ManifestEvents lists bot event subscriptions.
type ManifestEvents struct {
	BotEvents []string `json:"bot_events"`
}

// ManifestInteractivity toggles interactive components.
type ManifestInteractivity struct {
	IsEnabled bool `json:"is_enabled"`
}

// NewManifest builds the app manifest for the given display name. Socket
// Mode is always on; the connector has no public endpoint.
func NewManifest(name string) Manifest {
	if name == "" {
		name = "Troupe"
	}
	return Manifest{
		DisplayInformation: ManifestDisplay{Name: name},
		Features: ManifestFeatures{
			BotUser: ManifestBotUser{DisplayName: name, AlwaysOnline: true},
		},
		OAuthConfig: ManifestOAuth{
			Scopes: ManifestScopes{Bot: append([]string(nil), BotScopes...)},
		},
		Settings: ManifestSettings{
			EventSubscriptions: ManifestEvents{BotEvents: append([]string(nil), BotEvents...)},
			Interactivity:      ManifestInteractivity{IsEnabled: true},
			SocketModeEnabled:  true,
		},
	}
}

// ManifestURL returns the one-click app-creation URL with the manifest
// embedded as a query parameter.
func ManifestURL(name string) (string, error) {
	data, err := json.Marshal(NewManifest(name))
	if err != nil {
		return "", err
	}
	return "https://api.slack.com/apps?new_app=1&manifest_json=" + url.QueryEscape(string(data)), nil
}
