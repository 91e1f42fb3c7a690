package chat

import (
	"strings"

	"github.com/ndanh/guildchat/pkg/model"
)

// MatchText is a case-insensitive substring match. A blank keyword
// matches nothing.
func MatchText(text, keyword string) bool {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(keyword))
}

// FindFirst returns the index of the first message whose content matches
// keyword, for scroll-to behavior.
func FindFirst(msgs []model.Message, keyword string) (int, bool) {
	for i := range msgs {
		if MatchText(msgs[i].Content, keyword) {
			return i, true
		}
	}
	return 0, false
}

// Filter returns the messages whose content matches keyword.
func Filter(msgs []model.Message, keyword string) []model.Message {
	var out []model.Message
	for _, m := range msgs {
		if MatchText(m.Content, keyword) {
			out = append(out, m)
		}
	}
	return out
}
