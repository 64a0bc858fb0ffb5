package arbiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vramd/internal/backend"
)

// fakeBackend simulates a local server in memory.
type fakeBackend struct {
	kind backend.Kind

	mu        sync.Mutex
	down      bool
	resident  []string
	installed []string
	// sticky ignores unload requests so models stay resident.
	sticky bool
	// failListAfter makes ListResident fail after that many successful calls; 0 disables.
	failListAfter int
	loadErr       error

	listCalls int
	unloads   []string
	loads     []string
}

func newFake(kind backend.Kind, installed ...string) *fakeBackend {
	return &fakeBackend{kind: kind, installed: installed}
}

func (f *fakeBackend) Kind() backend.Kind { return f.kind }
func (f *fakeBackend) BaseURL() string    { return "http://fake/" + string(f.kind) }

func (f *fakeBackend) Reachable(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.down
}

func (f *fakeBackend) ListResident(ctx context.Context) ([]backend.ResidentModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errors.New("connection refused")
	}
	f.listCalls++
	if f.failListAfter > 0 && f.listCalls > f.failListAfter {
		return nil, errors.New("connection reset")
	}
	out := make([]backend.ResidentModel, 0, len(f.resident))
	for _, id := range f.resident {
		out = append(out, backend.ResidentModel{ID: id, InstanceID: id})
	}
	return out, nil
}

func (f *fakeBackend) ListAvailable(ctx context.Context) ([]backend.ModelDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errors.New("connection refused")
	}
	out := make([]backend.ModelDescriptor, 0, len(f.installed))
	for _, id := range f.installed {
		out = append(out, backend.ModelDescriptor{ID: id, Type: "llm"})
	}
	return out, nil
}

func (f *fakeBackend) Unload(ctx context.Context, m backend.ResidentModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloads = append(f.unloads, m.ID)
	if f.sticky {
		return nil
	}
	kept := f.resident[:0]
	for _, id := range f.resident {
		if id != m.ID {
			kept = append(kept, id)
		}
	}
	f.resident = kept
	return nil
}

func (f *fakeBackend) Load(ctx context.Context, model string, opts backend.LoadOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, model)
	if f.loadErr != nil {
		return f.loadErr
	}
	f.resident = append(f.resident, model)
	return nil
}

func (f *fakeBackend) residentIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.resident...)
}

func (f *fakeBackend) counts() (unloads, loads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.unloads), len(f.loads)
}

func (f *fakeBackend) resetCounts() {
	f.mu.Lock()
	f.unloads, f.loads = nil, nil
	f.mu.Unlock()
}

func (f *fakeBackend) set(fn func(f *fakeBackend)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func newTestArbiter(pub EventPublisher, backends ...backend.Backend) *Arbiter {
	return New(Config{
		Backends:      backends,
		UnloadTimeout: 200 * time.Millisecond,
		LoadTimeout:   200 * time.Millisecond,
		WarmUpTimeout: time.Second,
		PollInterval:  5 * time.Millisecond,
		Publisher:     pub,
	})
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}
