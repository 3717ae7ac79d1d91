package state

import (
	"net/netip"
	"testing"
)

func TestRuleMatchesWildcardFields(t *testing.T) {
	r := Rule{}
	if !r.matches(Connection{SourcePrincipal: "anyone"}) {
		t.Fatalf("expected empty rule to match everything")
	}
}

func TestRuleMatchesSourcePrincipal(t *testing.T) {
	r := Rule{SourcePrincipals: []string{"alice"}}
	if !r.matches(Connection{SourcePrincipal: "alice"}) {
		t.Fatalf("expected match for listed principal")
	}
	if r.matches(Connection{SourcePrincipal: "bob"}) {
		t.Fatalf("expected no match for unlisted principal")
	}
}

func TestRuleMatchesSourceIPBlock(t *testing.T) {
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	r := Rule{SourceIPBlocks: []netip.Prefix{prefix}}
	if !r.matches(Connection{SourceIP: netip.MustParseAddr("10.0.0.5")}) {
		t.Fatalf("expected match inside cidr")
	}
	if r.matches(Connection{SourceIP: netip.MustParseAddr("10.0.1.5")}) {
		t.Fatalf("expected no match outside cidr")
	}
}

func TestRuleMatchesDestinationPort(t *testing.T) {
	r := Rule{DestinationPorts: []uint16{443, 8443}}
	if !r.matches(Connection{DestinationPort: 443}) {
		t.Fatalf("expected match for listed port")
	}
	if r.matches(Connection{DestinationPort: 80}) {
		t.Fatalf("expected no match for unlisted port")
	}
}

func TestPolicyMatchesIsOrOfRules(t *testing.T) {
	p := Policy{
		Action: ActionAllow,
		Rules: []Rule{
			{SourcePrincipals: []string{"alice"}},
			{SourcePrincipals: []string{"bob"}},
		},
	}
	if !p.Matches(Connection{SourcePrincipal: "bob"}) {
		t.Fatalf("expected match via second rule")
	}
	if p.Matches(Connection{SourcePrincipal: "carol"}) {
		t.Fatalf("expected no match for unlisted principal")
	}
}

func TestPolicyWithNoRulesNeverMatches(t *testing.T) {
	p := Policy{Action: ActionAllow}
	if p.Matches(Connection{SourcePrincipal: "anyone"}) {
		t.Fatalf("expected policy with zero rules to never match")
	}
}
