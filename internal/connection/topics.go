package connection

import (
	"fmt"
	"strings"
)

// Topic wildcard characters.
const (
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
	topicLevelSeparator = "/"

	// maxTopicLength is the protocol's UTF-8 string limit.
	maxTopicLength = 65535
)

// ValidateFilter checks a subscription topic filter.
//
// Rules:
//   - not empty, no NUL characters, at most 65535 bytes
//   - "+" must occupy an entire level ("a/+/c", not "a/b+/c")
//   - "#" must occupy the last level ("a/#", not "a/#/c")
func ValidateFilter(filter string) error {
	if err := validateCommon(filter); err != nil {
		return err
	}

	levels := strings.Split(filter, topicLevelSeparator)
	for i, level := range levels {
		if strings.Contains(level, multiLevelWildcard) {
			if level != multiLevelWildcard || i != len(levels)-1 {
				return fmt.Errorf("%w: %q: '#' must be the last level on its own", ErrInvalidTopic, filter)
			}
		}
		if strings.Contains(level, singleLevelWildcard) && level != singleLevelWildcard {
			return fmt.Errorf("%w: %q: '+' must occupy an entire level", ErrInvalidTopic, filter)
		}
	}

	return nil
}

// ValidateTopic checks a publish topic name. Wildcards are not allowed.
func ValidateTopic(topic string) error {
	if err := validateCommon(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, singleLevelWildcard+multiLevelWildcard) {
		return fmt.Errorf("%w: %q: wildcards are not allowed in publish topics", ErrInvalidTopic, topic)
	}
	return nil
}

func validateCommon(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if len(topic) > maxTopicLength {
		return fmt.Errorf("%w: topic exceeds %d bytes", ErrInvalidTopic, maxTopicLength)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: topic contains NUL", ErrInvalidTopic)
	}
	return nil
}

// MatchFilter reports whether topic matches the subscription filter.
func MatchFilter(filter, topic string) bool {
	fl := strings.Split(filter, topicLevelSeparator)
	tl := strings.Split(topic, topicLevelSeparator)

	// Topics starting with '$' are not matched by leading wildcards.
	if strings.HasPrefix(topic, "$") && (fl[0] == singleLevelWildcard || fl[0] == multiLevelWildcard) {
		return false
	}

	for i, level := range fl {
		if level == multiLevelWildcard {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if level != singleLevelWildcard && level != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
