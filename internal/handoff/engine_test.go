package handoff

import (
	"sync"
	"testing"
)

func testRules() Rules {
	return Rules{
		Keywords:          []string{"Human", " refund "},
		AutoHandoffTopics: []string{"billing"},
		Topics: map[string][]string{
			"billing":  {"invoice", "charged"},
			"shipping": {"delivery", "tracking"},
		},
	}
}

func TestDecide_KeywordCaseInsensitive(t *testing.T) {
	e := NewEngine(testRules(), nil)

	v := e.Decide("Can I talk to a HUMAN please?")
	if v.Decision != Escalate {
		t.Fatalf("Decision = %q, want %q", v.Decision, Escalate)
	}
	if v.Keyword != "human" {
		t.Errorf("Keyword = %q, want human", v.Keyword)
	}
	if v.Reason() != "keyword:human" {
		t.Errorf("Reason = %q", v.Reason())
	}

	if v := e.Decide("I want a Refund"); v.Decision != Escalate {
		t.Errorf("refund: Decision = %q, want escalate", v.Decision)
	}
}

func TestDecide_AutoHandoffTopic(t *testing.T) {
	e := NewEngine(testRules(), nil)

	v := e.Decide("Why was I charged twice?")
	if v.Decision != Escalate || v.Topic != "billing" {
		t.Errorf("verdict = %+v, want escalate on billing", v)
	}

	v = e.Decide("Where is my delivery?")
	if v.Decision != AutoReply {
		t.Errorf("Decision = %q, want auto_reply", v.Decision)
	}
	if v.Topic != "shipping" {
		t.Errorf("Topic = %q, want shipping", v.Topic)
	}
}

func TestDecide_NoMatch(t *testing.T) {
	e := NewEngine(testRules(), nil)
	v := e.Decide("What are your opening hours?")
	if v.Decision != AutoReply || v.Keyword != "" || v.Topic != "" {
		t.Errorf("verdict = %+v, want plain auto_reply", v)
	}
}

type fixedTopic string

func (f fixedTopic) Detect(string, *Rules) string { return string(f) }

func TestDecide_CustomDetector(t *testing.T) {
	e := NewEngine(testRules(), fixedTopic("Billing"))
	if v := e.Decide("anything"); v.Decision != Escalate {
		t.Errorf("Decision = %q, want escalate from detector topic", v.Decision)
	}
}

func TestEngine_SwapTakesEffectImmediately(t *testing.T) {
	e := NewEngine(testRules(), nil)
	if e.Rules().Version != 1 {
		t.Fatalf("initial Version = %d, want 1", e.Rules().Version)
	}
	if v := e.Decide("open a ticket"); v.Decision != AutoReply {
		t.Fatalf("before swap: %q", v.Decision)
	}

	next := testRules()
	next.Keywords = append(next.Keywords, "ticket")
	installed := e.Swap(next)
	if installed.Version != 2 {
		t.Errorf("Version = %d, want 2", installed.Version)
	}
	v := e.Decide("open a ticket")
	if v.Decision != Escalate || v.Version != 2 {
		t.Errorf("after swap: %+v", v)
	}
}

func TestEngine_SwapSameContentKeepsVersion(t *testing.T) {
	e := NewEngine(testRules(), nil)
	r := testRules()
	r.Keywords = []string{"REFUND", "human"}
	if got := e.Swap(r).Version; got != 1 {
		t.Errorf("Version = %d, want 1 for identical content", got)
	}
}

func TestEngine_ConcurrentDecideAndSwap(t *testing.T) {
	e := NewEngine(testRules(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				v := e.Decide("human")
				if v.Decision != Escalate {
					t.Errorf("Decide lost keyword under swap: %+v", v)
					return
				}
			}
		}()
		go func(i int) {
			defer wg.Done()
			r := testRules()
			r.Keywords = append(r.Keywords, string(rune('a'+i))+"-extra")
			e.Swap(r)
		}(i)
	}
	wg.Wait()
}

func TestParseRules_CoercesNonArrays(t *testing.T) {
	r, err := ParseRules([]byte(`{"keywords":"human","auto_handoff_topics":{"x":1},"topics":{"billing":"invoice","sales":["Quote",3]}}`))
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	if r.Keywords == nil || len(r.Keywords) != 0 {
		t.Errorf("Keywords = %#v, want empty non-nil", r.Keywords)
	}
	if r.AutoHandoffTopics == nil || len(r.AutoHandoffTopics) != 0 {
		t.Errorf("AutoHandoffTopics = %#v, want empty non-nil", r.AutoHandoffTopics)
	}
	if len(r.Topics["billing"]) != 0 {
		t.Errorf("Topics[billing] = %v, want empty", r.Topics["billing"])
	}
	if got := r.Topics["sales"]; len(got) != 1 || got[0] != "quote" {
		t.Errorf("Topics[sales] = %v, want [quote]", got)
	}
}

func TestParseRules_MissingKeysAndNull(t *testing.T) {
	r, err := ParseRules([]byte(`{"keywords":null}`))
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	if r.Keywords == nil || r.AutoHandoffTopics == nil {
		t.Errorf("lists must be non-nil: %+v", r)
	}
}

func TestParseRules_InvalidJSON(t *testing.T) {
	if _, err := ParseRules([]byte(`[1,2`)); err == nil {
		t.Fatal("expected error")
	}
	if _, err := ParseRules([]byte(`["not","an","object"]`)); err == nil {
		t.Fatal("expected error for non-object document")
	}
}
