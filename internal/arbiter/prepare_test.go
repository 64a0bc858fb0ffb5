package arbiter

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vramd/internal/backend"
)

func TestPrepare_LoadsAndTracks(t *testing.T) {
	a := newFake(backend.KindOllama, "llama3:latest")
	b := newFake(backend.KindLMStudio, "qwen3-8b")
	pub := NewMemoryPublisher()
	arb := newTestArbiter(pub, a, b)

	require.NoError(t, arb.Prepare(testCtx(t), backend.KindOllama, "llama3:latest"))
	kind, model := arb.Active()
	require.Equal(t, backend.KindOllama, kind)
	require.Equal(t, "llama3:latest", model)
	require.Equal(t, []string{"llama3:latest"}, a.residentIDs())
	require.Equal(t, 1, pub.Count("load_ready"))
	require.Equal(t, 1, pub.Count("prepare_ready"))
}

func TestPrepare_IdempotentFastPath(t *testing.T) {
	a := newFake(backend.KindOllama, "llama3:latest")
	b := newFake(backend.KindLMStudio, "qwen3-8b")
	b.resident = []string{"qwen3-8b"}
	pub := NewMemoryPublisher()
	arb := newTestArbiter(pub, a, b)

	require.NoError(t, arb.Prepare(testCtx(t), backend.KindOllama, "llama3:latest"))
	a.resetCounts()
	b.resetCounts()

	require.NoError(t, arb.Prepare(testCtx(t), backend.KindOllama, "llama3"))
	for _, f := range []*fakeBackend{a, b} {
		unloads, loads := f.counts()
		require.Zero(t, unloads, "%s unloads", f.kind)
		require.Zero(t, loads, "%s loads", f.kind)
	}
	require.Equal(t, 1, pub.Count("prepare_fast_path"))
}

func TestPrepare_FastPathReverifiesResidency(t *testing.T) {
	a := newFake(backend.KindOllama, "llama3:latest")
	arb := newTestArbiter(nil, a)
	require.NoError(t, arb.Prepare(testCtx(t), backend.KindOllama, "llama3:latest"))

	// Evicted behind our back: the next prepare must reload.
	a.set(func(f *fakeBackend) { f.resident = nil })
	a.resetCounts()
	require.NoError(t, arb.Prepare(testCtx(t), backend.KindOllama, "llama3:latest"))
	_, loads := a.counts()
	require.Equal(t, 1, loads)
}

func TestPrepare_SkipResidencyCheckTrustsTracking(t *testing.T) {
	a := newFake(backend.KindOllama, "llama3:latest")
	arb := New(Config{Backends: []backend.Backend{a}, SkipResidencyCheck: true, PollInterval: 5 * time.Millisecond})
	require.NoError(t, arb.Prepare(testCtx(t), backend.KindOllama, "llama3:latest"))
	a.set(func(f *fakeBackend) { f.resident = nil })
	a.resetCounts()
	require.NoError(t, arb.Prepare(testCtx(t), backend.KindOllama, "llama3:latest"))
	_, loads := a.counts()
	require.Zero(t, loads)
}

func TestPrepare_EvictsCompetingBackendEvenWhenTargetResident(t *testing.T) {
	a := newFake(backend.KindOllama, "llama3:latest")
	a.resident = []string{"llama3:latest"}
	b := newFake(backend.KindLMStudio, "qwen3-8b")
	b.resident = []string{"qwen3-8b"}
	arb := newTestArbiter(nil, a, b)

	require.NoError(t, arb.Prepare(testCtx(t), backend.KindOllama, "llama3:latest"))
	require.Empty(t, b.residentIDs())
	_, loads := a.counts()
	require.Zero(t, loads, "resident target must not be reloaded")
}

func TestPrepare_BackendUnavailable(t *testing.T) {
	a := newFake(backend.KindOllama, "llama3:latest")
	a.down = true
	b := newFake(backend.KindLMStudio, "qwen3-8b")
	b.resident = []string{"qwen3-8b"}
	pub := NewMemoryPublisher()
	arb := newTestArbiter(pub, a, b)

	err := arb.Prepare(testCtx(t), backend.KindOllama, "llama3:latest")
	require.True(t, IsBackendUnavailable(err), "got %v", err)
	require.Contains(t, err.Error(), "Start Ollama")
	kind, _ := arb.Active()
	require.Equal(t, backend.KindNone, kind)
	// Nothing was touched on the competing backend.
	require.Equal(t, []string{"qwen3-8b"}, b.residentIDs())
	require.Equal(t, 1, pub.Count("prepare_failed"))
}

func TestPrepare_ModelNotFoundListsAlternatives(t *testing.T) {
	b := newFake(backend.KindLMStudio, "qwen3-8b", "gemma-3-4b")
	arb := newTestArbiter(nil, b)

	err := arb.Prepare(testCtx(t), backend.KindLMStudio, "missing")
	require.True(t, IsModelNotFound(err), "got %v", err)
	require.ElementsMatch(t, []string{"qwen3-8b", "gemma-3-4b"}, AvailableModels(err))
	require.Contains(t, err.Error(), "qwen3-8b")
}

func TestPrepare_LoadFailureClearsTracking(t *testing.T) {
	a := newFake(backend.KindOllama, "llama3:latest", "phi4:latest")
	arb := newTestArbiter(nil, a)
	require.NoError(t, arb.Prepare(testCtx(t), backend.KindOllama, "llama3:latest"))

	cause := errors.New("out of memory")
	a.set(func(f *fakeBackend) { f.loadErr = cause })
	err := arb.Prepare(testCtx(t), backend.KindOllama, "phi4:latest")
	require.True(t, IsPrepareFailed(err), "got %v", err)
	require.ErrorIs(t, err, cause)
	kind, model := arb.Active()
	require.Equal(t, backend.KindNone, kind)
	require.Empty(t, model)

	a.set(func(f *fakeBackend) { f.loadErr = nil })
	require.NoError(t, arb.Prepare(testCtx(t), backend.KindOllama, "phi4:latest"))
}

func TestPrepare_LoadNeverConfirmed(t *testing.T) {
	a := newFake(backend.KindOllama, "llama3:latest")
	arb := newTestArbiter(nil, &ghostLoad{a})
	err := arb.Prepare(testCtx(t), backend.KindOllama, "llama3:latest")
	require.True(t, IsPrepareFailed(err), "got %v", err)
	require.Contains(t, err.Error(), "not resident")
}

// ghostLoad acknowledges loads without making the model resident.
type ghostLoad struct{ *fakeBackend }

func (g *ghostLoad) Load(ctx context.Context, model string, opts backend.LoadOptions) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loads = append(g.loads, model)
	return nil
}

func TestPrepare_SequentialModelsSameBackend(t *testing.T) {
	b := newFake(backend.KindLMStudio, "qwen3-8b", "gemma-3-4b")
	arb := newTestArbiter(nil, b)

	require.NoError(t, arb.Prepare(testCtx(t), backend.KindLMStudio, "qwen3-8b"))
	unloads, _ := b.counts()
	require.Zero(t, unloads, "nothing else was resident")

	require.NoError(t, arb.Prepare(testCtx(t), backend.KindLMStudio, "gemma-3-4b"))
	unloads, _ = b.counts()
	require.Equal(t, 1, unloads)
	require.Equal(t, []string{"gemma-3-4b"}, b.residentIDs())
}

func TestPrepare_ConcurrentSameTargetLoadsOnce(t *testing.T) {
	a := newFake(backend.KindOllama, "llama3:latest")
	arb := newTestArbiter(nil, a)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- arb.Prepare(testCtx(t), backend.KindOllama, "llama3:latest")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	_, loads := a.counts()
	require.Equal(t, 1, loads)
}

func TestPrepare_MutualExclusionProperty(t *testing.T) {
	a := newFake(backend.KindOllama, "llama3:latest", "phi4:latest")
	b := newFake(backend.KindLMStudio, "qwen3-8b", "gemma-3-4b")
	a.resident = []string{"phi4:latest"}
	b.resident = []string{"qwen3-8b", "gemma-3-4b"}
	arb := newTestArbiter(nil, a, b)

	targets := []struct {
		kind  backend.Kind
		model string
	}{
		{backend.KindOllama, "llama3:latest"},
		{backend.KindOllama, "phi4:latest"},
		{backend.KindLMStudio, "qwen3-8b"},
		{backend.KindLMStudio, "gemma-3-4b"},
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 25; i++ {
		tg := targets[rng.Intn(len(targets))]
		require.NoError(t, arb.Prepare(testCtx(t), tg.kind, tg.model))
		nonEmpty := 0
		for _, f := range []*fakeBackend{a, b} {
			if ids := f.residentIDs(); len(ids) > 0 {
				nonEmpty++
				if f.kind == tg.kind {
					require.Equal(t, []string{tg.model}, ids)
				}
			}
		}
		require.LessOrEqual(t, nonEmpty, 1, "step %d: both backends hold models", i)
	}
}

func TestPrepare_UnknownBackend(t *testing.T) {
	arb := newTestArbiter(nil, newFake(backend.KindOllama))
	err := arb.Prepare(testCtx(t), backend.KindLMStudio, "x")
	require.True(t, IsBackendUnavailable(err))
	require.True(t, strings.Contains(err.Error(), "not configured"))
}
