package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vocdoni/shieldpay/api"
	solanachain "github.com/vocdoni/shieldpay/chain/solana"
	"github.com/vocdoni/shieldpay/config"
	"github.com/vocdoni/shieldpay/log"
	"github.com/vocdoni/shieldpay/pool"
	"github.com/vocdoni/shieldpay/relayer"
	"github.com/vocdoni/shieldpay/service"
	"github.com/vocdoni/shieldpay/splitter"
	"github.com/vocdoni/shieldpay/storage"
	"github.com/vocdoni/shieldpay/verifier"
	"go.vocdoni.io/dvote/db/metadb"
)

const artifactsTimeout = 5 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay gateway API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

// runnable is the lifecycle shared by the long running services.
type runnable interface {
	Start(ctx context.Context) error
	Stop()
}

func serve(cfg *config.Config) error {
	relayerKey, err := config.LoadKeypair(cfg.Chain.RelayerKeypair)
	if err != nil {
		return err
	}
	programID, poolAccount, feeRecipient, err := cfg.Chain.Keys()
	if err != nil {
		return err
	}
	denominations, err := cfg.Relayer.DenominationLamports()
	if err != nil {
		return err
	}
	feeMargin, err := cfg.Relayer.FeeMarginLamports()
	if err != nil {
		return err
	}

	database, err := metadb.New(cfg.Storage.Type, cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	stg, err := storage.New(database)
	if err != nil {
		return err
	}
	defer stg.Close()

	tree, err := pool.NewTree(pool.DefaultScheme.Hasher(), pool.TreeDepth, stg)
	if err != nil {
		return err
	}
	log.Infow("commitment tree loaded", "size", tree.Size(), "root", tree.Root().String())

	chain, err := solanachain.New(solanachain.Config{
		Endpoint:       cfg.Chain.Endpoint,
		RelayerKey:     relayerKey,
		ProgramID:      programID,
		PoolAccount:    poolAccount,
		FeeRecipient:   feeRecipient,
		ConfirmTimeout: cfg.Chain.ConfirmTimeout,
		PollInterval:   cfg.Chain.PollInterval,
	})
	if err != nil {
		return err
	}

	var vk []byte
	artifact, err := cfg.Artifacts.VerificationKey()
	if err != nil {
		return err
	}
	if artifact != nil {
		if err := service.LoadArtifacts(artifactsTimeout, artifact); err != nil {
			return fmt.Errorf("load verification key: %w", err)
		}
		vk = artifact.Content
	}
	proofVerifier, err := verifier.New(verifier.Backend(cfg.Artifacts.Backend))
	if err != nil {
		return err
	}

	// the tree only tracks the chain when there is a pool to index
	services := []runnable{}
	var roots relayer.Accumulator
	if !programID.IsZero() && !poolAccount.IsZero() {
		roots = tree
		services = append(services, service.NewCommitmentIndexer(chain, tree, stg, cfg.Chain.IndexInterval))
	} else {
		log.Warnw("pool not configured, merkle roots are not checked")
	}

	gateway, err := relayer.New(relayer.Config{
		MaxPending:      cfg.Relayer.MaxPending,
		Denominations:   denominations,
		FeeMargin:       feeMargin,
		FeeBps:          cfg.Relayer.FeeBps,
		FeeRecipient:    feeRecipient,
		ProgramID:       programID,
		VerificationKey: vk,
		ConfirmedTTL:    cfg.Relayer.ConfirmedTTL,
		StaleAfter:      cfg.Relayer.StaleAfter,
	}, relayer.Deps{
		Store:     stg,
		Verifier:  proofVerifier,
		Submitter: chain,
		Balances:  chain,
		Tree:      roots,
	})
	if err != nil {
		return err
	}

	apiConf := api.APIConfig{
		Host:       cfg.API.Host,
		Port:       cfg.API.Port,
		Gateway:    gateway,
		Tree:       tree,
		Nullifiers: stg,
	}
	var tasks service.TaskReservations
	if cfg.Splitter.Enabled {
		senderKey := relayerKey
		if cfg.Splitter.SenderKeypair != "" {
			if senderKey, err = config.LoadKeypair(cfg.Splitter.SenderKeypair); err != nil {
				return err
			}
		}
		split := splitter.New(stg, chain, splitter.SingleKey(senderKey),
			splitter.WithFundingPause(cfg.Splitter.MinFundingPause, cfg.Splitter.MaxFundingPause))
		apiConf.Splitter = split
		tasks = stg
		services = append(services, service.NewSplitScheduler(stg, split,
			cfg.Splitter.SchedulerInterval, cfg.Splitter.SchedulerLimit))
		log.Infow("splitter enabled", "sender", senderKey.PublicKey().String())
	}
	services = append(services,
		service.NewSweeper(gateway, tasks, cfg.Relayer.SweepInterval, cfg.Splitter.TaskTTL),
		service.NewAPI(apiConf),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i, s := range services {
		if err := s.Start(ctx); err != nil {
			stopAll(services[:i])
			return err
		}
	}
	log.Infow("shieldpay started",
		"relayer", chain.Address().String(),
		"mode", gateway.Mode(),
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"program", programID.String(),
		"splitter", cfg.Splitter.Enabled)

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	<-done
	log.Infow("shutting down")
	stopAll(services)
	return nil
}

// stopAll stops the services in reverse start order.
func stopAll(services []runnable) {
	for i := len(services) - 1; i >= 0; i-- {
		services[i].Stop()
	}
}
