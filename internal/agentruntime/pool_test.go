package agentruntime

import "testing"

func TestPool_Find_ExactName(t *testing.T) {
	p := NewPool(&AgentDefinition{Name: "triage"}, &AgentDefinition{Name: "billing"})
	a, ok := p.Find("billing")
	if !ok || a.Name != "billing" {
		t.Fatalf("expected exact match for billing, got %+v, ok=%v", a, ok)
	}
}

func TestPool_Find_CaseInsensitive(t *testing.T) {
	p := NewPool(&AgentDefinition{Name: "Billing"})
	a, ok := p.Find("billing")
	if !ok || a.Name != "Billing" {
		t.Fatalf("expected case-insensitive match, got %+v, ok=%v", a, ok)
	}
}

func TestPool_Find_UniquePrefix(t *testing.T) {
	p := NewPool(&AgentDefinition{Name: "billing-support"})
	a, ok := p.Find("billing")
	if !ok || a.Name != "billing-support" {
		t.Fatalf("expected unique-prefix match, got %+v, ok=%v", a, ok)
	}
}

func TestPool_Find_AmbiguousPrefixFails(t *testing.T) {
	p := NewPool(&AgentDefinition{Name: "billing-support"}, &AgentDefinition{Name: "billing-sales"})
	_, ok := p.Find("billing")
	if ok {
		t.Fatal("expected ambiguous prefix to fail to resolve")
	}
}

func TestPool_Find_NotFound(t *testing.T) {
	p := NewPool(&AgentDefinition{Name: "triage"})
	_, ok := p.Find("nonexistent")
	if ok {
		t.Fatal("expected lookup of an unknown agent to fail")
	}
}
