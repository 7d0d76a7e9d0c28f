package mqtt

import "strings"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "identity"

// Session event names published under <prefix>/session/<event>.
const (
	SessionLogin   = "login"
	SessionLogout  = "logout"
	SessionRefresh = "refresh"
	SessionRevoked = "revoked"
)

// Topics builds identityd MQTT topics under a common prefix.
//
//	topics := mqtt.Topics{Prefix: "identity"}
//	topics.SessionEvent(mqtt.SessionLogout)
//	// Returns: "identity/session/logout"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.Trim(t.Prefix, "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: identity/system/status
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// SessionEvent returns the topic for one session lifecycle event.
//
// Example: identity/session/login
func (t Topics) SessionEvent(event string) string {
	return t.prefix() + "/session/" + event
}

// AllSessionEvents returns a wildcard matching every session event.
//
// Example: identity/session/+
func (t Topics) AllSessionEvents() string {
	return t.prefix() + "/session/+"
}
