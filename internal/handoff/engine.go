package handoff

import (
	"strings"
	"sync/atomic"
	"time"
)

// Decision is the outcome of evaluating one inbound message.
type Decision string

const (
	AutoReply Decision = "auto_reply"
	Escalate  Decision = "escalate"
)

// Verdict explains a Decision.
type Verdict struct {
	Decision Decision
	Keyword  string // matched keyword, if any
	Topic    string // detected topic, if any
	Version  int    // rules version that produced the verdict
}

// Reason renders the verdict for logs and case summaries.
func (v Verdict) Reason() string {
	switch {
	case v.Keyword != "":
		return "keyword:" + v.Keyword
	case v.Decision == Escalate && v.Topic != "":
		return "topic:" + v.Topic
	default:
		return string(v.Decision)
	}
}

// TopicDetector classifies a message into a topic name, or "".
type TopicDetector interface {
	Detect(text string, rules *Rules) string
}

// KeywordTopics detects a topic when the text contains one of its trigger
// phrases. Topics are tried in AutoHandoffTopics order first so an
// escalating topic wins over a benign one.
type KeywordTopics struct{}

// Detect implements TopicDetector.
func (KeywordTopics) Detect(text string, rules *Rules) string {
	lower := strings.ToLower(text)
	tried := make(map[string]bool, len(rules.Topics))
	match := func(name string) bool {
		tried[name] = true
		for _, p := range rules.Topics[name] {
			if strings.Contains(lower, p) {
				return true
			}
		}
		return false
	}
	for _, name := range rules.AutoHandoffTopics {
		if match(name) {
			return name
		}
	}
	for name := range rules.Topics {
		if !tried[name] && match(name) {
			return name
		}
	}
	return ""
}

// Engine evaluates messages against the current Rules. Rules are swapped
// atomically; a Decide call sees exactly one version.
type Engine struct {
	rules    atomic.Pointer[Rules]
	detector TopicDetector
	now      func() time.Time
}

// NewEngine creates an Engine with initial rules. A nil detector uses
// KeywordTopics.
func NewEngine(initial Rules, detector TopicDetector) *Engine {
	if detector == nil {
		detector = KeywordTopics{}
	}
	e := &Engine{detector: detector, now: time.Now}
	r := initial.normalize()
	if r.Version == 0 {
		r.Version = 1
	}
	e.rules.Store(&r)
	return e
}

// Rules returns the current snapshot.
func (e *Engine) Rules() Rules {
	return *e.rules.Load()
}

// Swap installs next as the current rules with the following version
// number and returns what was installed. Identical content keeps the
// current version.
func (e *Engine) Swap(next Rules) Rules {
	next = next.normalize()
	for {
		cur := e.rules.Load()
		if sameContent(*cur, next) {
			return *cur
		}
		r := next
		r.Version = cur.Version + 1
		r.UpdatedAt = e.now().UTC()
		if e.rules.CompareAndSwap(cur, &r) {
			return r
		}
	}
}

// Decide returns Escalate when text contains any keyword
// (case-insensitive) or the detected topic is an auto-handoff topic.
func (e *Engine) Decide(text string) Verdict {
	r := e.rules.Load()
	v := Verdict{Decision: AutoReply, Version: r.Version}

	lower := strings.ToLower(text)
	for _, kw := range r.Keywords {
		if strings.Contains(lower, kw) {
			v.Decision = Escalate
			v.Keyword = kw
			return v
		}
	}

	v.Topic = e.detector.Detect(text, r)
	for _, t := range r.AutoHandoffTopics {
		if v.Topic != "" && strings.EqualFold(v.Topic, t) {
			v.Decision = Escalate
			break
		}
	}
	return v
}
