package global

import "strconv"

// Bus topics. Names are shared with every producer/consumer of the bus.
const (
	TopicUnreadChanged     = "user:unread_messages_events"
	TopicRecipientsChanged = "user:recipients_change_events"
	TopicLastOnline        = "user:last_online_events"
	TopicUserDeleted       = "user:deleted_events"
)

// presence key: user:last_online:<user_id>
// Value: "2006-01-02 15:04:05" UTC, TTL bounds how long the cache answers
const LastOnlinePrefix = "user:last_online:"

func LastOnlineKey(userID int64) string {
	return LastOnlinePrefix + strconv.FormatInt(userID, 10)
}

// UserIDFromLastOnlineKey is the inverse of LastOnlineKey.
func UserIDFromLastOnlineKey(key string) (int64, bool) {
	if len(key) <= len(LastOnlinePrefix) || key[:len(LastOnlinePrefix)] != LastOnlinePrefix {
		return 0, false
	}
	id, err := strconv.ParseInt(key[len(LastOnlinePrefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
