package dbpool

import "testing"

func TestOpenRejectsNonPositivePoolSize(t *testing.T) {
	_, err := Open(Config{Host: "localhost", Port: 5432, User: "u", Password: "p", DBName: "d", PoolSize: 0})
	if err == nil {
		t.Fatalf("expected error for PoolSize=0")
	}
}

func TestOpenSucceedsWithoutConnecting(t *testing.T) {
	// sql.Open never dials; it only validates the driver name and DSN
	// shape, so this exercises construction without needing a live
	// Postgres instance.
	p, err := Open(Config{Host: "localhost", Port: 5432, User: "u", Password: "p", DBName: "d", PoolSize: 4})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()
	if p.InUse() != 0 {
		t.Fatalf("expected 0 in-use handles on a fresh pool")
	}
}
