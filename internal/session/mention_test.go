package session

import (
	"reflect"
	"testing"
)

func TestExtractMentions(t *testing.T) {
	cases := []struct {
		text string
		want []string
	}{
		{"hello world", nil},
		{"@assistant summarize", []string{"assistant"}},
		{"ping @bob and @ann-k about this", []string{"bob", "ann-k"}},
		{"mail me at a@b_c", []string{"b_c"}},
	}
	for _, tc := range cases {
		if got := extractMentions(tc.text); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("extractMentions(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestStripAssistantMention(t *testing.T) {
	cases := []struct {
		text    string
		want    string
		matched bool
	}{
		{"@assistant summarize the data", "summarize the data", true},
		{"@ASSISTANT what changed?", "what changed?", true},
		{"could you @Assistant check this", "could you check this", true},
		{"no mention here", "no mention here", false},
		{"@assistante is a different token", "@assistante is a different token", false},
	}
	for _, tc := range cases {
		got, matched := stripAssistantMention(tc.text)
		if got != tc.want || matched != tc.matched {
			t.Errorf("stripAssistantMention(%q) = (%q, %v), want (%q, %v)",
				tc.text, got, matched, tc.want, tc.matched)
		}
	}
}
