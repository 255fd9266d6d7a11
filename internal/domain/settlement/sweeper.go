package settlement

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/agrilink/marketplace/internal/domain/order"
	"github.com/agrilink/marketplace/internal/domain/payment"
)

const defaultSweepBatch = 100

type SweeperConfig struct {
	Interval    time.Duration
	StaleAfter  time.Duration
	ExpireAfter time.Duration
	BatchSize   int
}

// SweepReport summarizes one pass over stale pending orders.
type SweepReport struct {
	Checked int
	Settled int
	Expired int
	Failed  int
}

// Sweeper periodically re-verifies payment_pending orders whose callback
// never arrived and expires those that stay unresolved.
type Sweeper struct {
	store      order.Store
	service    *Service
	reconciler *Reconciler
	cfg        SweeperConfig
	now        func() time.Time
}

func NewSweeper(store order.Store, service *Service, reconciler *Reconciler, cfg SweeperConfig) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultSweepBatch
	}
	return &Sweeper{
		store:      store,
		service:    service,
		reconciler: reconciler,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Run sweeps every Interval until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.cfg.Interval)
	defer ticker.Stop()

	log.Printf("[Sweeper] Started (interval=%s, stale after %s, expire after %s)",
		sw.cfg.Interval, sw.cfg.StaleAfter, sw.cfg.ExpireAfter)

	for {
		select {
		case <-ctx.Done():
			log.Println("[Sweeper] Stopped")
			return
		case <-ticker.C:
			report, err := sw.SweepOnce(ctx)
			if err != nil {
				log.Printf("[Sweeper] Sweep failed: %v", err)
				continue
			}
			if report.Checked > 0 {
				log.Printf("[Sweeper] Checked %d orders: %d settled, %d expired, %d failed",
					report.Checked, report.Settled, report.Expired, report.Failed)
			}
		}
	}
}

// SweepOnce runs a single pass. Orders with a reference are verified with
// the gateway first; an order is only expired when the gateway answered
// pending or has no such charge. Other gateway errors leave it for the next
// pass.
func (sw *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := sw.now()

	stale, err := sw.store.ListStalePending(ctx, now.Add(-sw.cfg.StaleAfter), sw.cfg.BatchSize)
	if err != nil {
		return report, err
	}

	for _, o := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		current := o
		if o.Payment.Reference != "" {
			res, err := sw.service.VerifyPayment(ctx, o.Payment.Reference)
			switch {
			case errors.Is(err, payment.ErrChargeNotFound):
				// Initialization never reached the gateway.
			case err != nil:
				log.Printf("[Sweeper] Failed to verify order %s (ref %s): %v", o.OrderNumber, o.Payment.Reference, err)
				report.Failed++
				continue
			case res.Applied:
				report.Settled++
				continue
			default:
				current = res.Order
			}
		}

		if current.Payment.Settled() || now.Sub(current.CreatedAt) < sw.cfg.ExpireAfter {
			continue
		}

		res, err := sw.reconciler.Expire(ctx, current)
		if err != nil {
			log.Printf("[Sweeper] Failed to expire order %s: %v", current.OrderNumber, err)
			report.Failed++
			continue
		}
		if res.Applied {
			report.Expired++
		}
	}

	return report, nil
}
