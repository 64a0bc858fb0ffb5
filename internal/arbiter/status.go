package arbiter

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"vramd/pkg/types"
)

// Status returns an observability snapshot. Backends are probed
// concurrently and outside the queue, so a running transition is visible
// rather than blocking the call.
func (a *Arbiter) Status(ctx context.Context) types.StatusResponse {
	kind, model := a.Active()
	out := types.StatusResponse{
		ActiveModel:   model,
		Locked:        a.queue.Locked(),
		Waiting:       a.queue.Waiting(),
		Backends:      make([]types.BackendStatus, len(a.order)),
		UptimeSeconds: int64(time.Since(a.startTime).Seconds()),
	}
	if kind != "" {
		out.ActiveProvider = kind.String()
	}

	var g errgroup.Group
	for i, k := range a.order {
		b := a.backends[k]
		g.Go(func() error {
			st := types.BackendStatus{Kind: k.String(), BaseURL: b.BaseURL()}
			st.Reachable = b.Reachable(ctx)
			if st.Reachable {
				resident, err := b.ListResident(ctx)
				if err != nil {
					st.Error = err.Error()
				}
				for _, m := range resident {
					st.Resident = append(st.Resident, types.ResidentStatus{
						Model:         m.ID,
						InstanceID:    m.InstanceID,
						SizeBytes:     m.SizeBytes,
						ContextLength: m.ContextLength,
					})
				}
			}
			out.Backends[i] = st
			return nil
		})
	}
	_ = g.Wait()
	return out
}
