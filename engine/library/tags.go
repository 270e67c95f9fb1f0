package library

import (
	"github.com/nbd-wtf/go-nostr"
)

func GetFirstTag(e nostr.Event, startsWith string) (string, bool) {
	for _, tag := range e.Tags {
		if tag.StartsWith([]string{startsWith}) {
			return tag.Value(), true
		}
	}
	return "", false
}

// GetAllTags returns the value of every tag with the given name.
func GetAllTags(e nostr.Event, name string) (r []string) {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			r = append(r, tag[1])
		}
	}
	return
}
