package mqtt

import "strings"

// sharePrefix marks a shared subscription: $share/<group>/<filter>.
const sharePrefix = "$share/"

// topicMatches reports whether a concrete topic falls under a subscription
// filter. "+" stands for exactly one level and a trailing "#" for the parent
// level and everything below it. Topics starting with "$" are only matched
// by filters that name that first level literally.
func topicMatches(filter, topic string) bool {
	if rest, ok := strings.CutPrefix(filter, sharePrefix); ok {
		_, f, found := strings.Cut(rest, "/")
		if !found {
			return false
		}
		filter = f
	}
	if filter == topic {
		return true
	}
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}

	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, level := range fl {
		if level == "#" {
			return i == len(fl)-1
		}
		if i >= len(tl) {
			return false
		}
		if level != "+" && level != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
