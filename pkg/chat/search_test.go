package chat

import (
	"testing"

	"github.com/ndanh/guildchat/pkg/model"
)

func TestMatchText(t *testing.T) {
	cases := []struct {
		text, keyword string
		want          bool
	}{
		{"Hello World", "world", true},
		{"Hello World", "WORLD", true},
		{"Hello World", "lo wo", true},
		{"Hello World", "mars", false},
		{"Hello World", "", false},
		{"Hello World", "   ", false},
	}
	for _, tc := range cases {
		if got := MatchText(tc.text, tc.keyword); got != tc.want {
			t.Errorf("MatchText(%q, %q) = %v, want %v", tc.text, tc.keyword, got, tc.want)
		}
	}
}

func TestFindFirst(t *testing.T) {
	msgs := []model.Message{
		{ID: "1", Content: "morning all"},
		{ID: "2", Content: "deploy is done"},
		{ID: "3", Content: "re-deploy please"},
	}

	i, ok := FindFirst(msgs, "Deploy")
	if !ok || i != 1 {
		t.Errorf("FindFirst = %d, %v; want 1, true", i, ok)
	}
	if _, ok := FindFirst(msgs, "weekend"); ok {
		t.Error("found a keyword that is not there")
	}

	if got := Filter(msgs, "deploy"); len(got) != 2 {
		t.Errorf("Filter matched %d messages, want 2", len(got))
	}
}
