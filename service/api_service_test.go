package service

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/gagliardetto/solana-go"
	"github.com/vocdoni/arbo/memdb"
	"github.com/vocdoni/shieldpay/api"
	"github.com/vocdoni/shieldpay/api/client"
	"github.com/vocdoni/shieldpay/relayer"
	"github.com/vocdoni/shieldpay/storage"
)

func TestAPIService(t *testing.T) {
	c := qt.New(t)

	// Setup storage
	store, err := storage.New(memdb.New())
	c.Assert(err, qt.IsNil)
	defer store.Close()

	ledger := newFakeLedger()
	gw, err := relayer.New(relayer.Config{}, relayer.Deps{
		Store:     store,
		Submitter: ledger,
		Balances:  ledger,
	})
	c.Assert(err, qt.IsNil)

	// Port 0 lets the OS choose an available port
	apiService := NewAPI(api.APIConfig{Host: "127.0.0.1", Port: 0, Gateway: gw})
	ctx := context.Background()
	c.Assert(apiService.Start(ctx), qt.IsNil)
	defer apiService.Stop()

	cli, err := client.New("http://" + apiService.Addr().String())
	c.Assert(err, qt.IsNil)
	info, err := cli.Info()
	c.Assert(err, qt.IsNil)
	c.Assert(info.Mode, qt.Equals, relayer.ModeSponsor)
	c.Assert(info.RelayerAddress, qt.Equals, solana.PublicKey{})

	// Test stopping and restarting
	apiService.Stop()
	c.Assert(apiService.Addr(), qt.IsNil)
	c.Assert(apiService.Start(ctx), qt.IsNil)

	// Test starting an already running service
	c.Assert(apiService.Start(ctx), qt.ErrorMatches, "service already running")
}
