package history

import (
	"context"
	"log"
	"time"
)

// Reading is the point-in-time state the recorder samples.
type Reading struct {
	BeamCurrentAvg float64
	MachineMode    string
	InjectionPhase string
}

// Recorder periodically samples the simulator state into the history store
// and prunes samples past the retention window.
type Recorder struct {
	store     *Store
	sample    func() Reading
	interval  time.Duration
	retention time.Duration
}

// NewRecorder creates a recorder. sample is called once per interval; a zero
// retention disables pruning.
func NewRecorder(store *Store, sample func() Reading, interval, retention time.Duration) *Recorder {
	return &Recorder{
		store:     store,
		sample:    sample,
		interval:  interval,
		retention: retention,
	}
}

// Run samples until ctx is cancelled. Pruning piggybacks on the sample
// ticker, running once per hour of ticks at most.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	lastPrune := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reading := r.sample()
			if err := r.store.RecordSample(reading.BeamCurrentAvg, reading.MachineMode, reading.InjectionPhase); err != nil {
				log.Printf("history: record sample: %v", err)
			}

			if r.retention > 0 && time.Since(lastPrune) >= time.Hour {
				lastPrune = time.Now()
				n, err := r.store.PruneSamples(time.Now().Add(-r.retention))
				if err != nil {
					log.Printf("history: prune: %v", err)
				} else if n > 0 {
					log.Printf("history: pruned %d samples older than %s", n, r.retention)
				}
			}
		}
	}
}
