package refund

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Drainer retries pending refund intents in the background.
type Drainer struct {
	store       Store
	compensator *Compensator
	interval    time.Duration
	batchSize   int
	stopCh      chan struct{}
	doneCh      chan struct{}
}

func NewDrainer(store Store, compensator *Compensator, interval time.Duration, batchSize int) *Drainer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Drainer{
		store:       store,
		compensator: compensator,
		interval:    interval,
		batchSize:   batchSize,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the background drain loop
func (d *Drainer) Start() {
	log.Info().Dur("interval", d.interval).Msg("Starting refund drainer...")
	go d.loop()
}

// Stop stops the loop and waits for the current batch to finish.
func (d *Drainer) Stop() {
	log.Info().Msg("Stopping refund drainer...")
	close(d.stopCh)
	<-d.doneCh
}

func (d *Drainer) loop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.drain()

	for {
		select {
		case <-ticker.C:
			d.drain()
		case <-d.stopCh:
			return
		}
	}
}

func (d *Drainer) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), d.interval)
	defer cancel()

	applied, failed, err := d.DrainOnce(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to claim refund intents")
		return
	}
	if applied > 0 || failed > 0 {
		log.Info().Int("applied", applied).Int("failed", failed).Msg("Refund intents drained")
	}
}

// DrainOnce applies one batch of due intents.
func (d *Drainer) DrainOnce(ctx context.Context) (applied, failed int, err error) {
	intents, err := d.store.ClaimDue(ctx, d.batchSize, d.interval)
	if err != nil {
		return 0, 0, err
	}

	for _, in := range intents {
		if _, err := d.compensator.Apply(ctx, in); err != nil {
			failed++
			continue
		}
		applied++
	}
	return applied, failed, nil
}
