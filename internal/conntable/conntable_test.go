package conntable

import "testing"

func TestInitThenCloseDecrementsUserCount(t *testing.T) {
	tbl := New(4)
	if _, _, err := tbl.Init(0, nil, LT, nil); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if tbl.UserCount() != 1 {
		t.Fatalf("expected UserCount 1, got %d", tbl.UserCount())
	}
	tbl.Close(0)
	if tbl.UserCount() != 0 {
		t.Fatalf("expected UserCount 0 after Close, got %d", tbl.UserCount())
	}
	if _, _, ok := tbl.Get(0); ok {
		t.Fatalf("expected slot 0 empty after Close")
	}
}

func TestFullAtExactlyMaxFDMinusOneAdmitsOneMore(t *testing.T) {
	tbl := New(2)
	if _, _, err := tbl.Init(0, nil, LT, nil); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if tbl.Full() {
		t.Fatalf("table with 1/2 slots used must not be full")
	}
	if _, _, err := tbl.Init(1, nil, LT, nil); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !tbl.Full() {
		t.Fatalf("table with 2/2 slots used must be full")
	}
}

func TestImprovFlagRoundTrip(t *testing.T) {
	conn, _, err := New(1).Init(0, nil, LT, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if conn.Improv() {
		t.Fatalf("improv must start clear")
	}
	conn.SetImprov()
	if !conn.Improv() {
		t.Fatalf("improv must be set after SetImprov")
	}
	conn.ClearImprov()
	if conn.Improv() {
		t.Fatalf("improv must clear after ClearImprov")
	}
}

func TestClientDataGetsStableID(t *testing.T) {
	tbl := New(1)
	_, cd, err := tbl.Init(0, nil, LT, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if cd.ID.String() == "" {
		t.Fatalf("expected non-empty uuid")
	}
}
