package arbiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"vramd/internal/backend"
)

// Prepare makes model the only resident model on the GPU, loaded on the
// backend of the given kind. It is a no-op when the pair is already tracked
// and still resident.
//
// The transition runs to completion even if ctx is canceled while it holds
// the queue; every network step carries its own timeout instead.
func (a *Arbiter) Prepare(ctx context.Context, kind backend.Kind, model string) error {
	if model == "" {
		return errors.New("arbiter: prepare requires a model")
	}
	b, ok := a.backends[kind]
	if !ok {
		return ErrBackendUnavailable(kind, "")
	}
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	queueWaiting.Inc()
	fast := false
	err := a.queue.Do(func() error {
		queueWaiting.Dec()
		var err error
		fast, err = a.prepareLocked(ctx, b, model)
		return err
	})
	prepareDuration.Observe(time.Since(start).Seconds())
	switch {
	case err == nil && fast:
		prepareTotal.WithLabelValues("fast_path").Inc()
	default:
		prepareTotal.WithLabelValues(result(err)).Inc()
	}
	return err
}

// prepareLocked runs the hot-swap sequence. It must only run inside the queue.
func (a *Arbiter) prepareLocked(ctx context.Context, b backend.Backend, model string) (bool, error) {
	kind := b.Kind()
	log := a.log.With().Str("backend", kind.String()).Str("model", model).Logger()

	if a.isActive(kind, model) {
		if a.skipResidency || a.confirmResident(ctx, b, model) {
			log.Debug().Str("event", "prepare_fast_path").Msg("already active")
			a.publisher.Publish(Event{Name: "prepare_fast_path", Backend: kind.String(), ModelID: model})
			return true, nil
		}
		log.Info().Str("event", "prepare_stale").Msg("tracked model no longer resident; re-arbitrating")
	}

	log.Info().Str("event", "prepare_start").Msg("preparing backend")
	a.publisher.Publish(Event{Name: "prepare_start", Backend: kind.String(), ModelID: model})

	if !b.Reachable(ctx) {
		a.clearActive()
		err := ErrBackendUnavailable(kind, b.BaseURL())
		a.fail(kind, model, err)
		return false, err
	}

	// The competing backends go first so the GPU never holds two families.
	for _, other := range a.order {
		if other == kind {
			continue
		}
		Drain(ctx, a.backends[other], "", a.drainOptions())
	}
	res := Drain(ctx, b, model, a.drainOptions())

	if !res.KeepResident {
		if err := a.load(ctx, b, model); err != nil {
			a.clearActive()
			a.fail(kind, model, err)
			return false, err
		}
	}

	a.setActive(kind, model)
	log.Info().Str("event", "prepare_ready").Bool("loaded", !res.KeepResident).Int("freed", res.Freed).Msg("backend ready")
	a.publisher.Publish(Event{Name: "prepare_ready", Backend: kind.String(), ModelID: model, Fields: map[string]any{"loaded": !res.KeepResident, "freed": res.Freed}})
	return false, nil
}

func (a *Arbiter) fail(kind backend.Kind, model string, err error) {
	a.log.Warn().Str("event", "prepare_failed").Str("backend", kind.String()).Str("model", model).Str("reason", result(err)).Err(err).Msg("prepare failed")
	a.publisher.Publish(Event{Name: "prepare_failed", Backend: kind.String(), ModelID: model, Fields: map[string]any{"reason": result(err), "error": err.Error()}})
}

// confirmResident is the fast-path freshness check. A failed listing counts
// as not resident.
func (a *Arbiter) confirmResident(ctx context.Context, b backend.Backend, model string) bool {
	resident, err := b.ListResident(ctx)
	if err != nil {
		return false
	}
	return backend.ContainsModel(resident, model)
}

// load checks the inventory, issues the load or warm-up call and waits for
// the backend to report the model resident.
func (a *Arbiter) load(ctx context.Context, b backend.Backend, model string) error {
	kind := b.Kind()
	avail, err := b.ListAvailable(ctx)
	if err != nil {
		if !b.Reachable(ctx) {
			return ErrBackendUnavailable(kind, b.BaseURL())
		}
		return ErrPrepareFailed(kind, model, fmt.Errorf("list models: %w", err))
	}
	ids := make([]string, 0, len(avail))
	found := false
	for _, d := range avail {
		ids = append(ids, d.ID)
		if backend.MatchModel(d.ID, model) {
			found = true
		}
	}
	if !found {
		return ErrModelNotFound(kind, model, ids)
	}

	opts := backend.LoadOptions{KeepAlive: a.keepAlive}
	if a.contextLength != nil {
		opts.ContextLength = a.contextLength(kind, model)
	}
	a.log.Info().Str("event", "load_start").Str("backend", kind.String()).Str("model", model).Int("context_length", opts.ContextLength).Msg("loading model")
	a.publisher.Publish(Event{Name: "load_start", Backend: kind.String(), ModelID: model})

	start := time.Now()
	lctx, cancel := context.WithTimeout(ctx, a.warmUpTimeout)
	err = b.Load(lctx, model, opts)
	cancel()
	if err != nil {
		if backend.IsModelMissing(err) {
			return ErrModelNotFound(kind, model, ids)
		}
		return ErrPrepareFailed(kind, model, err)
	}
	if err := a.awaitResident(ctx, b, model); err != nil {
		return ErrPrepareFailed(kind, model, err)
	}
	a.log.Info().Str("event", "load_ready").Str("backend", kind.String()).Str("model", model).Dur("took", time.Since(start)).Msg("model resident")
	a.publisher.Publish(Event{Name: "load_ready", Backend: kind.String(), ModelID: model})
	return nil
}

// awaitResident polls the resident list until model shows up or the load
// confirmation window elapses.
func (a *Arbiter) awaitResident(ctx context.Context, b backend.Backend, model string) error {
	ctx, cancel := context.WithTimeout(ctx, a.loadTimeout)
	defer cancel()
	lim := rate.NewLimiter(rate.Every(a.pollInterval), 1)
	var lastErr error
	for {
		if err := lim.Wait(ctx); err != nil {
			if lastErr != nil {
				return fmt.Errorf("not resident after %s: %w", a.loadTimeout, lastErr)
			}
			return fmt.Errorf("not resident after %s", a.loadTimeout)
		}
		resident, err := b.ListResident(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if backend.ContainsModel(resident, model) {
			return nil
		}
	}
}
