package slacktransport

import (
	"fmt"
	"hash/fnv"
	"sync"
)

// idMap bridges relbot's platform-neutral int64 chat/message/user ids and
// Slack's native string channel ids, timestamps, and user ids. Ids are
// derived deterministically (a hash of the Slack string) so the same
// Slack id always maps to the same int64 without a persisted table, and
// the reverse lookup is cached the first time an id is seen.
type idMap struct {
	mu          sync.RWMutex
	channels    map[int64]string
	timestamps  map[int64]tsRef
	slackUsers  map[int64]string
}

type tsRef struct {
	channel string
	ts      string
}

func newIDMap() *idMap {
	return &idMap{
		channels:   map[int64]string{},
		timestamps: map[int64]tsRef{},
		slackUsers: map[int64]string{},
	}
}

func hashID(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64() >> 1) // keep positive
}

// channel returns the Slack channel id registered for a platform-neutral
// chat id via RegisterChannel, or "" if none was registered (a caller error
// in practice, since every channel must be registered from an inbound event
// before relbot ever tries to post to it).
func (m *idMap) channel(chatID int64) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[chatID]
}

// RegisterChannel records the mapping from a Slack channel id to the
// platform-neutral int64 relbot uses internally, and returns that id.
func (m *idMap) RegisterChannel(slackChannelID string) int64 {
	id := hashID("channel:" + slackChannelID)
	m.mu.Lock()
	m.channels[id] = slackChannelID
	m.mu.Unlock()
	return id
}

func (m *idMap) messageID(channel, ts string) int64 {
	id := hashID(fmt.Sprintf("msg:%s:%s", channel, ts))
	m.mu.Lock()
	m.timestamps[id] = tsRef{channel: channel, ts: ts}
	m.mu.Unlock()
	return id
}

func (m *idMap) timestamp(messageID int64) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timestamps[messageID].ts
}

// RegisterUser records the mapping from a Slack user id to the
// platform-neutral int64 relbot uses internally, and returns that id.
func (m *idMap) RegisterUser(slackUserID string) int64 {
	id := hashID("user:" + slackUserID)
	m.mu.Lock()
	m.slackUsers[id] = slackUserID
	m.mu.Unlock()
	return id
}

func (m *idMap) slackUser(userID int64) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slackUsers[userID]
}
