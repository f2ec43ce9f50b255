package store

import (
	"os"
	"testing"
)

// TestMySQLStore_Suite runs the Store contract suite against a real MySQL
// instance. Set ATHS_TEST_MYSQL_DSN to enable, e.g.:
//
//	ATHS_TEST_MYSQL_DSN="root:root@tcp(localhost:3306)/aths_test" go test ./offline/store/
func TestMySQLStore_Suite(t *testing.T) {
	dsn := os.Getenv("ATHS_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("ATHS_TEST_MYSQL_DSN not set; skipping MySQL integration tests")
	}

	runStoreSuite(t, func(t *testing.T) Store {
		st, err := NewMySQLStore(dsn)
		if err != nil {
			t.Fatalf("NewMySQLStore failed: %v", err)
		}
		t.Cleanup(func() {
			// Best-effort cleanup between subtests.
			ctx := t.Context()
			entries, _ := st.Entries(ctx)
			for _, e := range entries {
				_ = st.DeleteEntry(ctx, e.Key)
			}
			ops, _ := st.Ops(ctx)
			for _, op := range ops {
				_ = st.RemoveOp(ctx, op.ID)
			}
			_ = st.Close()
		})
		return st
	})
}
