package mqtt

import (
	"fmt"
	"strings"
)

// Topics the shims service itself publishes.
const (
	// TopicPrefix is the base for every topic owned by the service.
	TopicPrefix = "graylogic/shims"

	// TopicStatus carries the retained online/offline status and the LWT.
	TopicStatus = TopicPrefix + "/status"
)

// TriggerTopic returns the topic a fired trigger is announced on.
func TriggerTopic(triggerID string) string {
	return fmt.Sprintf("%s/trigger/%s", TopicPrefix, triggerID)
}

// Split breaks a topic into its levels. Empty levels are kept, so
// "a//b" yields three parts and "/a" starts with "".
func Split(topic string) []string {
	if topic == "" {
		return nil
	}
	return strings.Split(topic, "/")
}

// Match reports whether topic matches the subscription filter, honouring
// the "+" single-level and "#" multi-level wildcards. Topics beginning with
// "$" only match filters that name them explicitly.
func Match(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if strings.HasPrefix(topic, "$") && !strings.HasPrefix(filter, "$") {
		return false
	}

	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, level := range f {
		if level == "#" {
			return i == len(f)-1
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}

// ValidateFilter checks a subscription filter's wildcard placement.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#" && i != len(levels)-1:
			return fmt.Errorf("%w: %q: '#' must be the last level", ErrInvalidFilter, filter)
		case level != "#" && level != "+" && strings.ContainsAny(level, "#+"):
			return fmt.Errorf("%w: %q: wildcards must occupy a whole level", ErrInvalidFilter, filter)
		}
	}
	return nil
}
