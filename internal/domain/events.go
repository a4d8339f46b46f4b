package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventTag is the coarse event vocabulary used by email and webhook filters.
type EventTag string

const (
	EventOnline       EventTag = "online"
	EventOffline      EventTag = "offline"
	EventContentError EventTag = "content_error"
	EventPerformance  EventTag = "performance"
	EventSSLExpire    EventTag = "ssl_expire"
)

var eventOrder = []EventTag{EventOnline, EventOffline, EventContentError, EventPerformance, EventSSLExpire}

// legacy display labels accepted when reading stored settings
var eventAliases = map[string]EventTag{
	"online":         EventOnline,
	"back online":    EventOnline,
	"offline":        EventOffline,
	"content_error":  EventContentError,
	"content error":  EventContentError,
	"performance":    EventPerformance,
	"ssl_expire":     EventSSLExpire,
	"ssl expiration": EventSSLExpire,
}

// TagsFor maps a status to the tags that select it. Content errors are both
// an outage and their own category.
func TagsFor(s StatusKind) []EventTag {
	switch s {
	case StatusOnline:
		return []EventTag{EventOnline}
	case StatusContentError:
		return []EventTag{EventOffline, EventContentError}
	case StatusDNSError, StatusTimeoutError, StatusConnectionError, StatusStatusError, StatusSSLError:
		return []EventTag{EventOffline}
	case StatusPerformanceIssue:
		return []EventTag{EventPerformance}
	case StatusSSLExpiration:
		return []EventTag{EventSSLExpire}
	}
	return nil
}

// WebhookEventName is the "event" field sent to webhooks: the status label,
// except certificate expiry which uses its tag.
func WebhookEventName(s StatusKind) string {
	if s == StatusSSLExpiration {
		return string(EventSSLExpire)
	}
	return string(s)
}

// EventSet is a validated set of event tags.
type EventSet map[EventTag]struct{}

func NewEventSet(tags ...EventTag) EventSet {
	s := make(EventSet, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}

// AllEvents returns a set holding the whole vocabulary.
func AllEvents() EventSet { return NewEventSet(eventOrder...) }

func (s EventSet) Has(t EventTag) bool {
	_, ok := s[t]
	return ok
}

// Matches reports whether any tag selecting status is in the set.
func (s EventSet) Matches(status StatusKind) bool {
	for _, t := range TagsFor(status) {
		if s.Has(t) {
			return true
		}
	}
	return false
}

// Tags returns the members in vocabulary order.
func (s EventSet) Tags() []EventTag {
	out := make([]EventTag, 0, len(s))
	for _, t := range eventOrder {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s EventSet) Strings() []string {
	tags := s.Tags()
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = string(t)
	}
	return out
}

func (s EventSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON accepts a JSON array or a single string holding a JSON or
// comma separated list.
func (s *EventSet) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		var items []string
		if err := json.Unmarshal(b, &items); err != nil {
			return fmt.Errorf("event list: %w", err)
		}
		set, err := ParseEventItems(items)
		if err != nil {
			return err
		}
		*s = set
		return nil
	}
	set, err := ParseEventList(raw)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

// ParseEventList parses stored list text, either a JSON array or a comma
// separated list, into a set. Legacy display labels are accepted.
func ParseEventList(raw string) (EventSet, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return EventSet{}, nil
	}
	if strings.HasPrefix(raw, "[") {
		var items []string
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, fmt.Errorf("event list %q: %w", raw, err)
		}
		return ParseEventItems(items)
	}
	return ParseEventItems(strings.Split(raw, ","))
}

// ParseEventItems validates individual event names.
func ParseEventItems(items []string) (EventSet, error) {
	set := EventSet{}
	for _, item := range items {
		key := strings.ToLower(strings.Trim(strings.TrimSpace(item), `"'`))
		if key == "" {
			continue
		}
		tag, ok := eventAliases[key]
		if !ok {
			return nil, fmt.Errorf("unknown event %q", item)
		}
		set[tag] = struct{}{}
	}
	return set, nil
}
