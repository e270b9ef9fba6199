package service

import (
	"context"
	"time"

	"github.com/vocdoni/shieldpay/circuits"
	"golang.org/x/sync/errgroup"
)

// LoadArtifacts loads the given circuit artifacts concurrently, downloading
// the ones missing from the local cache.
func LoadArtifacts(timeout time.Duration, artifacts ...*circuits.Artifact) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, a := range artifacts {
		if a == nil {
			continue
		}
		g.Go(func() error {
			return a.Load(ctx)
		})
	}
	return g.Wait()
}
