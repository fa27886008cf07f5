//go:build integration

package ledger

import (
	"testing"

	"rollcall/pkg/testutil/containers"
)

func TestPostgresLedgerContract(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	runLedgerContract(t, func(t *testing.T) ledgerStore {
		pg.Truncate(t)
		return NewPostgres(pg.DB)
	})
}

func TestRedisLedgerContract(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	runLedgerContract(t, func(t *testing.T) ledgerStore {
		if err := rc.FlushAll(t.Context()); err != nil {
			t.Fatalf("flush redis: %v", err)
		}
		return NewRedis(rc.Client)
	})
}
