package mqtt

import "strings"

// DefaultTopicPrefix is the prefix used by the original lock fleet.
const DefaultTopicPrefix = "locks/internal"

// Topics builds the lock's topic names under a common prefix.
//
//	topics := mqtt.NewTopics("locks/internal")
//	topics.Event("hash") // "locks/internal/events/hash"
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix. Trailing slashes are dropped and
// an empty prefix falls back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the base topic.
func (t Topics) Prefix() string {
	return t.prefix
}

// MAC is where the device announces its hardware address on connect.
func (t Topics) MAC() string {
	return t.prefix + "/mac"
}

// Command is subscribed for remote commands ("sync").
func (t Topics) Command() string {
	return t.prefix + "/command"
}

// Event returns the topic for events named name.
func (t Topics) Event(name string) string {
	return t.prefix + "/events/" + name
}

// AllEvents matches every event topic.
func (t Topics) AllEvents() string {
	return t.prefix + "/events/+"
}

// Ping receives the session's keepalive round trips.
func (t Topics) Ping() string {
	return t.prefix + "/ping"
}

// Status carries the retained online/offline status and the LWT.
func (t Topics) Status() string {
	return t.prefix + "/status"
}
