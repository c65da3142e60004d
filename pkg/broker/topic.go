package broker

import (
	"fmt"
	"strings"
)

// MatchRoutingKey applies topic-exchange matching: `*` matches exactly one
// dot-separated segment and `#` matches zero or more.
func MatchRoutingKey(pattern, routingKey string) bool {
	return matchSegments(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

func matchSegments(pattern, key []string) bool {
	for len(pattern) > 0 {
		head := pattern[0]
		if head == "#" {
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchSegments(rest, key[i:]) {
					return true
				}
			}
			return false
		}
		if len(key) == 0 {
			return false
		}
		if head != "*" && head != key[0] {
			return false
		}
		pattern = pattern[1:]
		key = key[1:]
	}
	return len(key) == 0
}

// ValidatePattern rejects binding patterns the exchange would treat literally by mistake,
// such as `student*` or `student..created`.
func ValidatePattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("binding pattern is required")
	}
	if strings.ContainsAny(pattern, " \t") {
		return fmt.Errorf("binding pattern %q must not contain whitespace", pattern)
	}
	for _, segment := range strings.Split(pattern, ".") {
		switch {
		case segment == "":
			return fmt.Errorf("binding pattern %q has an empty segment", pattern)
		case segment == "*" || segment == "#":
		case strings.ContainsAny(segment, "*#"):
			return fmt.Errorf("binding pattern %q mixes a wildcard with text in segment %q", pattern, segment)
		}
	}
	return nil
}
