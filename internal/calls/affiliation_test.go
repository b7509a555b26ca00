package calls

import "testing"

func TestAffiliationTableAffiliateAndLookup(t *testing.T) {
	tbl := NewAffiliationTable()
	tbl.Affiliate(1, 100, 9990)
	if !tbl.IsAffiliated(1, 9990) {
		t.Fatalf("expected peer 1 to be affiliated with TG 9990")
	}
	if tbl.IsAffiliated(1, 1234) {
		t.Fatalf("expected peer 1 not affiliated with TG 1234")
	}
	if tbl.IsAffiliated(2, 9990) {
		t.Fatalf("expected peer 2 to have no affiliations")
	}
}

func TestAffiliationTableUnaffiliate(t *testing.T) {
	tbl := NewAffiliationTable()
	tbl.Affiliate(1, 100, 9990)
	tbl.Unaffiliate(1, 100)
	if tbl.IsAffiliated(1, 9990) {
		t.Fatalf("expected affiliation to be removed")
	}
}

func TestAffiliationTableRegisterAndLookupRegisteredPeer(t *testing.T) {
	tbl := NewAffiliationTable()
	tbl.Register(5, 555, 7777)
	owner, ok := tbl.LookupRegisteredPeer(555)
	if !ok || owner != 5 {
		t.Fatalf("expected rid 555 to be registered under peer 5, got owner=%d ok=%v", owner, ok)
	}
	if _, ok := tbl.LookupRegisteredPeer(999); ok {
		t.Fatalf("expected rid 999 to be unregistered")
	}
}

func TestAffiliationTableDeregister(t *testing.T) {
	tbl := NewAffiliationTable()
	tbl.Register(5, 555, 7777)
	tbl.Deregister(5, 555)
	if _, ok := tbl.LookupRegisteredPeer(555); ok {
		t.Fatalf("expected registration to be removed")
	}
}

func TestAffiliationTableRemovePeerClearsAll(t *testing.T) {
	tbl := NewAffiliationTable()
	tbl.Affiliate(1, 100, 9990)
	tbl.Register(1, 100, 7777)
	tbl.RemovePeer(1)
	if tbl.IsAffiliated(1, 9990) {
		t.Fatalf("expected affiliations cleared after RemovePeer")
	}
	if _, ok := tbl.LookupRegisteredPeer(100); ok {
		t.Fatalf("expected registrations cleared after RemovePeer")
	}
}
