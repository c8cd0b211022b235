package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmate-ai/docmate"
	"github.com/docmate-ai/docmate/provider"
	"github.com/docmate-ai/docmate/store/snapshot"
)

// topicEmbedder maps text to one of two opposed vectors by keyword, so
// relevance is controlled entirely by the test fixtures.
type topicEmbedder struct {
	keyword string
}

func (e *topicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.Contains(strings.ToLower(text), e.keyword) {
		return []float32{1, 0}, nil
	}
	return []float32{-1, 0}, nil
}

// scriptedGenerator returns canned completions, optionally blocking until
// released so tests can hold a question in flight.
type scriptedGenerator struct {
	name  string
	reply string
	err   error

	mu      sync.Mutex
	block   chan struct{} // when non-nil, Complete waits on it
	entered chan struct{} // signalled once per blocked call
}

func (g *scriptedGenerator) Complete(ctx context.Context, prompt string, params docmate.GenerationParams) (string, error) {
	g.mu.Lock()
	block := g.block
	entered := g.entered
	g.mu.Unlock()

	if block != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *scriptedGenerator) Name() string { return g.name }

// memorySnapshotStore is a minimal in-process snapshot.Store.
type memorySnapshotStore struct {
	mu   sync.Mutex
	docs map[string]snapshot.DocumentSnapshot
}

func newMemorySnapshotStore() *memorySnapshotStore {
	return &memorySnapshotStore{docs: make(map[string]snapshot.DocumentSnapshot)}
}

func (m *memorySnapshotStore) SaveDocument(ctx context.Context, snap snapshot.DocumentSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[snap.Document.ID] = snap
	return nil
}

func (m *memorySnapshotStore) DeleteDocument(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, documentID)
	return nil
}

func (m *memorySnapshotStore) LoadAll(ctx context.Context) ([]snapshot.DocumentSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]snapshot.DocumentSnapshot, 0, len(m.docs))
	for _, snap := range m.docs {
		out = append(out, snap)
	}
	return out, nil
}

func (m *memorySnapshotStore) Close() error { return nil }

const leavesText = "Leaves capture sunlight for photosynthesis. " +
	"Chlorophyll absorbs light during photosynthesis and stores energy. " +
	"The photosynthesis cycle converts carbon dioxide into sugar over time."

func newTestPipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	if opts.Embedder == nil {
		opts.Embedder = &topicEmbedder{keyword: "photosynthesis"}
	}
	if opts.Primary == nil {
		opts.Primary = &scriptedGenerator{name: "primary", reply: "Plants convert light into chemical energy."}
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = 80
		opts.Overlap = 10
		opts.MinChunkSize = 20
	}
	p, err := New(opts)
	require.NoError(t, err)
	return p
}

func TestAskEndToEnd(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, Options{})

	doc, err := p.Ingest(ctx, "bio", "Plant Biology", leavesText, map[string]any{"source": "test"})
	require.NoError(t, err)
	assert.Equal(t, "bio", doc.ID)

	ans, err := p.Ask(ctx, "sess-1", "how does photosynthesis work?")
	require.NoError(t, err)
	assert.Equal(t, "Plants convert light into chemical energy.", ans.Text)
	assert.Equal(t, docmate.ProviderPrimary, ans.Provider)
	require.NotEmpty(t, ans.Citations)
	for _, id := range ans.Citations {
		assert.True(t, strings.HasPrefix(id, "bio:"), "citation %s should reference the ingested document", id)
	}
	assert.Greater(t, ans.Confidence, 0.5)

	// The exchange landed in session history.
	ans2, err := p.Ask(ctx, "sess-1", "what else about photosynthesis?")
	require.NoError(t, err)
	assert.NotNil(t, ans2)

	stats, err := p.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 1, stats.Sessions)
	assert.Equal(t, 2, stats.VectorDimension)
	assert.Greater(t, stats.Chunks, 0)
}

func TestAskNoRelevantContext(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, Options{})

	_, err := p.Ingest(ctx, "bio", "Plant Biology", leavesText, nil)
	require.NoError(t, err)

	// Nothing in the corpus mentions volcanoes; every score falls below
	// the threshold.
	_, err = p.Ask(ctx, "sess-1", "tell me about volcanoes")
	assert.ErrorIs(t, err, docmate.ErrNoRelevantContext)
	assert.Contains(t, docmate.Remedy(err), "rephras")
}

func TestAskRejectsConcurrentQuestionOnSameSession(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGenerator{
		name:    "primary",
		reply:   "answer",
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	p := newTestPipeline(t, Options{Primary: gen})

	_, err := p.Ingest(ctx, "bio", "Plant Biology", leavesText, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Ask(ctx, "sess-1", "what is photosynthesis?")
		done <- err
	}()
	<-gen.entered

	_, err = p.Ask(ctx, "sess-1", "another question about photosynthesis")
	assert.ErrorIs(t, err, docmate.ErrSessionBusy)

	close(gen.block)
	require.NoError(t, <-done)

	// The session frees up once the first question completes.
	_, err = p.Ask(ctx, "sess-1", "and photosynthesis again?")
	assert.NoError(t, err)
}

func TestRemoveDocumentCancelsInFlightAsk(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGenerator{
		name:    "primary",
		reply:   "answer",
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	p := newTestPipeline(t, Options{Primary: gen})

	_, err := p.Ingest(ctx, "bio", "Plant Biology", leavesText, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Ask(ctx, "sess-1", "what is photosynthesis?")
		done <- err
	}()
	<-gen.entered

	// Removing the cited document while the answer is being generated
	// aborts the question instead of answering from removed content.
	require.NoError(t, p.RemoveDocument(ctx, "bio"))

	err = <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// The document is fully gone.
	assert.Empty(t, p.Documents())
	_, err = p.Ask(ctx, "sess-2", "what is photosynthesis?")
	assert.ErrorIs(t, err, docmate.ErrNoRelevantContext)
}

func TestAskRechecksCitedDocumentsAfterRegistration(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, Options{})

	_, err := p.Ingest(ctx, "bio", "Plant Biology", leavesText, nil)
	require.NoError(t, err)

	// A removal that completes between retrieval and watch registration
	// fires no cancel, so the registration step must re-verify every cited
	// document against the index.
	results, err := p.retriever.Retrieve(ctx, "what is photosynthesis?")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Empty(t, p.missingDocument(docIDs(results)))

	p.index.Remove("bio")
	assert.Equal(t, "bio", p.missingDocument(docIDs(results)))
}

func TestRemoveDocumentUnknown(t *testing.T) {
	p := newTestPipeline(t, Options{})
	err := p.RemoveDocument(context.Background(), "never-ingested")
	assert.ErrorIs(t, err, docmate.ErrDocumentNotFound)
}

func TestReingestReplacesDocument(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, Options{})

	_, err := p.Ingest(ctx, "bio", "v1", leavesText, nil)
	require.NoError(t, err)

	// Replacement has no relevant content.
	_, err = p.Ingest(ctx, "bio", "v2", "Granite is an igneous rock formed from cooled magma under the crust.", nil)
	require.NoError(t, err)

	stats, err := p.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)

	_, err = p.Ask(ctx, "sess-1", "what is photosynthesis?")
	assert.ErrorIs(t, err, docmate.ErrNoRelevantContext)
}

func TestIngestValidation(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, Options{})

	_, err := p.Ingest(ctx, "bad", "Bad", "abc\xff\xfedef", nil)
	assert.ErrorIs(t, err, docmate.ErrInvalidDocument)

	_, err = p.Ingest(ctx, "empty", "Empty", "", nil)
	assert.ErrorIs(t, err, docmate.ErrInvalidDocument)

	// Generated id when none supplied.
	doc, err := p.Ingest(ctx, "", "Anon", leavesText, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
}

func TestGenerationUnavailableSurfaces(t *testing.T) {
	ctx := context.Background()
	failing := &scriptedGenerator{
		name: "primary",
		err:  docmate.NewProviderError("primary", docmate.Permanent, errors.New("bad key")),
	}
	p := newTestPipeline(t, Options{Primary: failing})

	_, err := p.Ingest(ctx, "bio", "Plant Biology", leavesText, nil)
	require.NoError(t, err)

	_, err = p.Ask(ctx, "sess-1", "what is photosynthesis?")
	assert.ErrorIs(t, err, docmate.ErrGenerationUnavailable)

	// The failed exchange must not pollute history; the next question on
	// this session starts cleanly.
	_, err = p.Ask(ctx, "sess-1", "what is photosynthesis?")
	assert.ErrorIs(t, err, docmate.ErrGenerationUnavailable)
}

func TestFallbackProviderTagged(t *testing.T) {
	ctx := context.Background()
	primary := &scriptedGenerator{
		name: "primary",
		err:  docmate.NewProviderError("primary", docmate.Permanent, errors.New("quota")),
	}
	fallback := &scriptedGenerator{name: "fallback", reply: "fallback answer"}
	p := newTestPipeline(t, Options{Primary: primary, Fallback: fallback})

	_, err := p.Ingest(ctx, "bio", "Plant Biology", leavesText, nil)
	require.NoError(t, err)

	ans, err := p.Ask(ctx, "sess-1", "what is photosynthesis?")
	require.NoError(t, err)
	assert.Equal(t, docmate.ProviderFallback, ans.Provider)
	assert.Equal(t, "fallback answer", ans.Text)
}

func TestResetSession(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, Options{})

	_, err := p.Ingest(ctx, "bio", "Plant Biology", leavesText, nil)
	require.NoError(t, err)
	_, err = p.Ask(ctx, "sess-1", "what is photosynthesis?")
	require.NoError(t, err)

	require.NoError(t, p.ResetSession(ctx, "sess-1"))

	// Asking again still works on the cleared session.
	_, err = p.Ask(ctx, "sess-1", "what is photosynthesis?")
	assert.NoError(t, err)
}

func TestSnapshotAndRestore(t *testing.T) {
	ctx := context.Background()
	store := newMemorySnapshotStore()

	p := newTestPipeline(t, Options{Snapshots: store})
	_, err := p.Ingest(ctx, "bio", "Plant Biology", leavesText, nil)
	require.NoError(t, err)

	// A fresh pipeline with an embedder that always fails proves Restore
	// never re-embeds.
	p2 := newTestPipeline(t, Options{
		Embedder:  &failingEmbedder{},
		Snapshots: store,
	})
	require.NoError(t, p2.Restore(ctx))

	stats, err := p2.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)

	// RemoveDocument also clears the snapshot.
	require.NoError(t, p2.RemoveDocument(ctx, "bio"))
	snaps, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

type failingEmbedder struct{}

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, docmate.NewProviderError("embed", docmate.Permanent, errors.New("should not be called"))
}

// flakyEmbedder always fails transiently and counts attempts.
type flakyEmbedder struct {
	calls int
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	return nil, docmate.NewProviderError("embed", docmate.Transient, errors.New("rate limited"))
}

func TestDisabledRetryIsHonored(t *testing.T) {
	ctx := context.Background()
	emb := &flakyEmbedder{}
	p := newTestPipeline(t, Options{
		Embedder: emb,
		Retry:    provider.RetryConfig{Disabled: true},
	})

	// A deliberate no-retry policy must not be mistaken for an unset one
	// and replaced with the defaults; the transient failure surfaces after
	// a single attempt.
	_, err := p.Ingest(ctx, "bio", "Plant Biology", leavesText, nil)
	require.Error(t, err)
	assert.Equal(t, 1, emb.calls)
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGenerator{name: "primary", reply: "A summary of plant biology."}
	p := newTestPipeline(t, Options{Primary: gen})

	_, err := p.Ingest(ctx, "bio", "Plant Biology", leavesText, nil)
	require.NoError(t, err)

	summary, err := p.Summarize(ctx, "bio")
	require.NoError(t, err)
	assert.Equal(t, "A summary of plant biology.", summary)

	_, err = p.Summarize(ctx, "missing")
	assert.ErrorIs(t, err, docmate.ErrDocumentNotFound)
}

func TestFollowUpsOnAnswer(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGenerator{name: "primary", reply: "What about respiration?\n2. How is glucose stored?"}
	p := newTestPipeline(t, Options{Primary: gen, FollowUps: true})

	_, err := p.Ingest(ctx, "bio", "Plant Biology", leavesText, nil)
	require.NoError(t, err)

	ans, err := p.Ask(ctx, "sess-1", "what is photosynthesis?")
	require.NoError(t, err)
	assert.NotEmpty(t, ans.FollowUps)
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{Embedder: &topicEmbedder{keyword: "x"}})
	assert.Error(t, err)
}

func TestNewSessionID(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestWatchRegistry(t *testing.T) {
	w := newWatchRegistry()

	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel1()
	defer cancel2()

	un1 := w.register([]string{"doc-a", "doc-b"}, cancel1)
	un2 := w.register([]string{"doc-b"}, cancel2)

	// Cancelling doc-a touches only the first question.
	w.cancelAll("doc-a")
	assert.Error(t, ctx1.Err())
	assert.NoError(t, ctx2.Err())

	un1()
	w.cancelAll("doc-b")
	assert.Error(t, ctx2.Err())
	un2()

	// After unregister, cancelAll on an empty id is a no-op.
	w.cancelAll("doc-b")
}

func TestAskHistoryFeedsAssembly(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, Options{ContextBudget: 400, MaxHistoryChars: 200, ChunkSize: 80, Overlap: 10, MinChunkSize: 20})

	_, err := p.Ingest(ctx, "bio", "Plant Biology", leavesText, nil)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := p.Ask(ctx, "sess-1", "tell me more about photosynthesis")
		require.NoError(t, err)
	}
	// History is trimmed, not unbounded; a fifth question still works
	// within the budget.
	_, err = p.Ask(ctx, "sess-1", "and more about photosynthesis")
	assert.NoError(t, err)
}

func TestAskRespectsCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := newTestPipeline(t, Options{})

	_, err := p.Ingest(context.Background(), "bio", "Plant Biology", leavesText, nil)
	require.NoError(t, err)

	cancel()
	_, err = p.Ask(ctx, "sess-1", "what is photosynthesis?")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
