package model

import (
	"encoding/json"
	"time"
)

// Source 标记 last_seen 的来源
type Source int

const (
	SourceNone Source = iota
	SourceCache
	SourceDurable
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceDurable:
		return "durable"
	default:
		return "none"
	}
}

// Seen is a user's most recent "seen" timestamp.
type Seen struct {
	UserID   int64
	LastSeen *time.Time
	Source   Source
}

// CacheLayout is how timestamps are stored in the presence cache (UTC, second precision).
const CacheLayout = "2006-01-02 15:04:05"

type wireSeen struct {
	UserID   int64   `json:"user_id"`
	LastSeen *string `json:"last_seen"`
}

// MarshalJSON renders {"user_id": int, "last_seen": RFC3339 string | null}.
func (s Seen) MarshalJSON() ([]byte, error) {
	w := wireSeen{UserID: s.UserID}
	if s.LastSeen != nil {
		v := s.LastSeen.UTC().Format(time.RFC3339)
		w.LastSeen = &v
	}
	return json.Marshal(w)
}

func (s *Seen) UnmarshalJSON(b []byte) error {
	var w wireSeen
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	s.UserID = w.UserID
	s.LastSeen = nil
	if w.LastSeen != nil {
		t, err := time.Parse(time.RFC3339, *w.LastSeen)
		if err != nil {
			return err
		}
		s.LastSeen = &t
	}
	return nil
}

// Same reports whether two observations carry the same timestamp.
func (s Seen) Same(o Seen) bool {
	if s.LastSeen == nil || o.LastSeen == nil {
		return s.LastSeen == nil && o.LastSeen == nil
	}
	return s.LastSeen.Equal(*o.LastSeen)
}
