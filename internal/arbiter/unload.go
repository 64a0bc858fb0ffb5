package arbiter

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"vramd/internal/backend"
)

// DrainOptions tune the unload protocol. Zero values use package defaults.
type DrainOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration
	Logger       zerolog.Logger
	Publisher    EventPublisher
}

// DrainResult reports what one Drain call did.
type DrainResult struct {
	// Freed is the number of resident models asked to unload.
	Freed int
	// Released is false only when the confirmation window elapsed with
	// models still resident.
	Released bool
	// KeepResident reports whether the kept model was resident when the
	// drain started.
	KeepResident bool
}

// Drain unloads every resident model on b except keep and polls until the
// backend reports them gone or the timeout elapses. It never fails:
//
//   - a failed initial listing means nothing is known to be resident;
//   - a failed unload request is logged and polling still decides;
//   - a failed poll means the server went away, which counts as released;
//   - a timeout is logged and reported through Released.
func Drain(ctx context.Context, b backend.Backend, keep string, opts DrainOptions) DrainResult {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultUnloadTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	pub := opts.Publisher
	if pub == nil {
		pub = noopPublisher{}
	}
	log := opts.Logger.With().Str("backend", b.Kind().String()).Logger()
	kind := b.Kind().String()

	resident, err := b.ListResident(ctx)
	if err != nil {
		log.Debug().Str("event", "unload_skip").Err(err).Msg("resident listing failed; assuming nothing is loaded")
		return DrainResult{Released: true}
	}
	res := DrainResult{Released: true}
	var targets []backend.ResidentModel
	for _, m := range resident {
		if keep != "" && backend.MatchModel(m.ID, keep) {
			res.KeepResident = true
			continue
		}
		targets = append(targets, m)
	}
	if len(targets) == 0 {
		return res
	}

	pub.Publish(Event{Name: "unload_start", Backend: kind, ModelID: keep, Fields: map[string]any{"count": len(targets)}})
	for _, m := range targets {
		unloadRequestsTotal.WithLabelValues(kind).Inc()
		if err := b.Unload(ctx, m); err != nil {
			log.Warn().Str("event", "unload_request_failed").Str("model", m.ID).Err(err).Msg("unload request failed")
			continue
		}
		log.Info().Str("event", "unload_issued").Str("model", m.ID).Msg("unload requested")
		pub.Publish(Event{Name: "unload_issued", Backend: kind, ModelID: m.ID})
	}
	res.Freed = len(targets)

	pctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	lim := rate.NewLimiter(rate.Every(opts.PollInterval), 1)
	// The first token is spent so the first poll happens one interval after
	// the requests went out.
	lim.Allow()
	start := time.Now()
	for {
		err := lim.Wait(pctx)
		var now []backend.ResidentModel
		if err == nil {
			now, err = b.ListResident(pctx)
			if err != nil && pctx.Err() == nil {
				log.Debug().Str("event", "unload_poll_failed").Err(err).Msg("backend stopped answering; treating as released")
				break
			}
		}
		if err != nil {
			log.Warn().Str("event", "unload_timeout").Dur("waited", time.Since(start)).Msg("models still resident after unload; continuing")
			pub.Publish(Event{Name: "unload_timeout", Backend: kind, ModelID: keep, Fields: map[string]any{"waited": time.Since(start).String()}})
			res.Released = false
			return res
		}
		if !anyOtherThan(now, keep) {
			break
		}
	}
	log.Info().Str("event", "unload_done").Int("freed", res.Freed).Dur("waited", time.Since(start)).Msg("unload confirmed")
	pub.Publish(Event{Name: "unload_done", Backend: kind, ModelID: keep, Fields: map[string]any{"freed": res.Freed}})
	return res
}

func anyOtherThan(resident []backend.ResidentModel, keep string) bool {
	for _, m := range resident {
		if keep == "" || !backend.MatchModel(m.ID, keep) {
			return true
		}
	}
	return false
}
