package recording

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Huddle/internal/domain"
)

// finalizer is the background pool that turns stopped recordings into
// retrievable artifacts. Stop never blocks on this work.
type finalizer struct {
	orch *Orchestrator
	jobs chan domain.RecordingID
}

func newFinalizer(o *Orchestrator) *finalizer {
	return &finalizer{orch: o, jobs: make(chan domain.RecordingID, 64)}
}

func (f *finalizer) start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 2
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case id, ok := <-f.jobs:
					if !ok {
						return nil
					}
					f.run(ctx, id)
				}
			}
		})
	}
	go func() {
		if err := g.Wait(); err != nil {
			log.Error().Err(err).Str("module", "recording").Msg("finalizer pool")
		}
	}()
}

func (f *finalizer) enqueue(id domain.RecordingID) {
	select {
	case f.jobs <- id:
	default:
		// Queue full: finalize inline rather than lose the job.
		go f.run(context.Background(), id)
	}
}

// run processes one stopped recording to its terminal state. Failures land
// in the failed state with the reason recorded; nothing retries silently.
func (f *finalizer) run(ctx context.Context, id domain.RecordingID) {
	o := f.orch
	rec, err := o.Get(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("module", "recording").Str("recording", string(id)).Msg("finalize load")
		return
	}
	if err := o.transition(ctx, rec, domain.RecordingProcessing, nil); err != nil {
		log.Error().Err(err).Str("module", "recording").Str("recording", string(id)).Msg("finalize transition")
		return
	}

	loc, err := f.render(ctx, rec)
	if err != nil {
		reason := err.Error()
		if terr := o.transition(ctx, rec, domain.RecordingFailed, func(r *domain.Recording) {
			r.FailureReason = reason
		}); terr != nil {
			log.Error().Err(terr).Str("module", "recording").Str("recording", string(id)).Msg("mark failed")
			return
		}
		log.Error().Err(err).Str("module", "recording").Str("recording", string(id)).Msg("finalization failed")
		o.broadcast(ctx, rec, domain.TypeRecordingFailed)
		return
	}

	if err := o.transition(ctx, rec, domain.RecordingFinalized, func(r *domain.Recording) {
		r.FileLocation = loc
	}); err != nil {
		log.Error().Err(err).Str("module", "recording").Str("recording", string(id)).Msg("mark finalized")
		return
	}
	log.Info().Str("module", "recording").Str("recording", string(id)).
		Str("location", loc).Msg("finalized")
	o.broadcast(ctx, rec, domain.TypeRecordingFinalized)
}

// render writes the artifact through the configured backend. The media
// pipeline upstream owns the actual encoded segments; this core writes the
// session manifest the retrieval service resolves the artifact by.
func (f *finalizer) render(ctx context.Context, rec *domain.Recording) (string, error) {
	backend, ok := f.orch.Backends[rec.StorageBackend]
	if !ok {
		return "", fmt.Errorf("storage backend %q not configured", rec.StorageBackend)
	}
	manifest, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s.%s", rec.ID, rec.Format)
	loc, err := backend.Write(ctx, name, manifest)
	if err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return loc, nil
}
