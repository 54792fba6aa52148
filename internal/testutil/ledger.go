package testutil

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/skyengage/skyengage/ledger"

	"github.com/stretchr/testify/require"
)

// Clock is a settable time source for tests.
type Clock struct {
	mu  sync.Mutex
	cur time.Time
}

func NewClock() *Clock {
	return &Clock{cur: time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(d)
}

// TestLedger opens a fresh sqlite ledger in a temp dir, driven by clk.
func TestLedger(t *testing.T, clk *Clock) *ledger.Ledger {
	t.Helper()
	db, err := ledger.OpenDB(ledger.DBConfig{URL: "sqlite://" + filepath.Join(t.TempDir(), "skyengage.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqldb, err := db.DB(); err == nil {
			sqldb.Close()
		}
	})

	var opts []ledger.Option
	if clk != nil {
		opts = append(opts, ledger.WithClock(clk.Now))
	}
	l, err := ledger.New(db, opts...)
	require.NoError(t, err)
	return l
}
