package mqtt

import (
	"fmt"
	"strings"
)

const (
	topicSeparator    = "/"
	singleLevelWild   = "+"
	multiLevelWild    = "#"
	wildcardChars     = singleLevelWild + multiLevelWild
	systemTopicPrefix = "$"
)

// MatchTopic reports whether topic is matched by the subscription pattern.
//
//   - A pattern without wildcards matches only the identical topic.
//   - "+" matches exactly one level: "a/+/c" matches "a/b/c" but not "a/b/c/d".
//   - "#" as the last level matches the parent level and everything below
//     it: "a/#" matches "a", "a/b" and "a/b/c".
//   - Wildcards in the first level never match topics starting with "$".
//
// A "#" that does not occupy a whole trailing level (e.g. "devices/ab#") is
// not a wildcard and is compared literally; Subscribe rejects such patterns.
func MatchTopic(topic, pattern string) bool {
	if !strings.ContainsAny(pattern, wildcardChars) {
		return topic == pattern
	}

	patternLevels := strings.Split(pattern, topicSeparator)
	topicLevels := strings.Split(topic, topicSeparator)

	if strings.HasPrefix(topic, systemTopicPrefix) &&
		(patternLevels[0] == singleLevelWild || patternLevels[0] == multiLevelWild) {
		return false
	}

	for i, level := range patternLevels {
		if level == multiLevelWild && i == len(patternLevels)-1 {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if level != singleLevelWild && level != topicLevels[i] {
			return false
		}
	}

	return len(patternLevels) == len(topicLevels)
}

// validateTopic checks a concrete topic name used for publishing.
func validateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: topic contains a null byte", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, wildcardChars) {
		return fmt.Errorf("%w: wildcards are not allowed in %q", ErrInvalidTopic, topic)
	}
	return nil
}

// validatePattern checks a subscription pattern: "+" must be a whole level
// and "#" must be the whole last level.
func validatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: pattern cannot be empty", ErrInvalidTopic)
	}
	if strings.ContainsRune(pattern, 0) {
		return fmt.Errorf("%w: pattern contains a null byte", ErrInvalidTopic)
	}

	levels := strings.Split(pattern, topicSeparator)
	for i, level := range levels {
		if strings.Contains(level, multiLevelWild) && (level != multiLevelWild || i != len(levels)-1) {
			return fmt.Errorf("%w: %q must be the whole last level in %q", ErrInvalidTopic, multiLevelWild, pattern)
		}
		if strings.Contains(level, singleLevelWild) && level != singleLevelWild {
			return fmt.Errorf("%w: %q must be a whole level in %q", ErrInvalidTopic, singleLevelWild, pattern)
		}
	}
	return nil
}
