// Package handoff decides when a conversation goes to a human operator and
// tracks the resulting cases.
package handoff

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Rules is an immutable snapshot of the escalation policy. Callers never
// mutate a Rules they did not build; the Engine swaps whole values.
type Rules struct {
	Version           int                 `json:"version"`
	Keywords          []string            `json:"keywords"`
	AutoHandoffTopics []string            `json:"auto_handoff_topics"`
	Topics            map[string][]string `json:"topics,omitempty"`
	UpdatedAt         time.Time           `json:"updated_at,omitempty"`
}

// DefaultRules is the policy used when no rules file exists yet.
func DefaultRules() Rules {
	return Rules{
		Keywords:          []string{"human", "agent", "operator", "complaint", "refund"},
		AutoHandoffTopics: []string{"billing"},
		Topics: map[string][]string{
			"billing": {"invoice", "charged", "payment", "bill"},
		},
	}
}

// ParseRules decodes a rules document. keywords and auto_handoff_topics
// that are not arrays become empty arrays; non-string entries are dropped.
func ParseRules(data []byte) (Rules, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Rules{}, fmt.Errorf("handoff: parse rules: %w", err)
	}
	r := Rules{
		Keywords:          stringList(raw["keywords"]),
		AutoHandoffTopics: stringList(raw["auto_handoff_topics"]),
		Topics:            map[string][]string{},
	}
	if v, ok := raw["version"]; ok {
		_ = json.Unmarshal(v, &r.Version)
	}
	if v, ok := raw["topics"]; ok {
		var topics map[string]json.RawMessage
		if json.Unmarshal(v, &topics) == nil {
			for name, phrases := range topics {
				r.Topics[name] = stringList(phrases)
			}
		}
	}
	return r.normalize(), nil
}

// stringList coerces a JSON value into a string slice, never nil.
func stringList(v json.RawMessage) []string {
	out := []string{}
	var items []interface{}
	if len(v) == 0 || json.Unmarshal(v, &items) != nil {
		return out
	}
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// normalize lowercases, trims and dedupes every list.
func (r Rules) normalize() Rules {
	n := Rules{
		Version:           r.Version,
		Keywords:          cleanList(r.Keywords),
		AutoHandoffTopics: cleanList(r.AutoHandoffTopics),
		Topics:            make(map[string][]string, len(r.Topics)),
		UpdatedAt:         r.UpdatedAt,
	}
	for name, phrases := range r.Topics {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		n.Topics[name] = cleanList(append(n.Topics[name], phrases...))
	}
	return n
}

func cleanList(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := []string{}
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// sameContent reports whether two rule sets differ only in version and
// timestamp.
func sameContent(a, b Rules) bool {
	if !equalList(a.Keywords, b.Keywords) || !equalList(a.AutoHandoffTopics, b.AutoHandoffTopics) {
		return false
	}
	if len(a.Topics) != len(b.Topics) {
		return false
	}
	for k, v := range a.Topics {
		if !equalList(v, b.Topics[k]) {
			return false
		}
	}
	return true
}

func equalList(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
