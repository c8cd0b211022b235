// Package pipeline wires chunking, indexing, retrieval, context assembly,
// generation and session state into the document question-answering API.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/docmate-ai/docmate"
	"github.com/docmate-ai/docmate/answer"
	"github.com/docmate-ai/docmate/chunker"
	"github.com/docmate-ai/docmate/index"
	"github.com/docmate-ai/docmate/log"
	"github.com/docmate-ai/docmate/prompt"
	"github.com/docmate-ai/docmate/provider"
	"github.com/docmate-ai/docmate/retriever"
	"github.com/docmate-ai/docmate/session"
	"github.com/docmate-ai/docmate/store/snapshot"
)

// Options configures a Pipeline. Embedder and Primary are required;
// everything else has a working default.
type Options struct {
	// Embedder produces chunk and query vectors.
	Embedder docmate.EmbeddingProvider
	// Primary is the first-choice generation provider.
	Primary docmate.GenerationProvider
	// Fallback, when set, is tried after the primary is exhausted.
	Fallback docmate.GenerationProvider

	// Sessions persists conversation state. Defaults to in-memory.
	Sessions session.Store
	// Snapshots, when set, persists index state per document so the
	// index can be rebuilt without re-embedding.
	Snapshots snapshot.Store

	// ChunkSize, Overlap, MinChunkSize and SnapWindow tune chunking;
	// zero values take the chunker defaults.
	ChunkSize    int
	Overlap      int
	MinChunkSize int
	SnapWindow   int

	// RetrievalK and ScoreThreshold tune retrieval; zero values take
	// the retriever defaults.
	RetrievalK     int
	ScoreThreshold float64

	// ContextBudget bounds the characters of content per generation
	// call. Defaults to 4000.
	ContextBudget int
	// MaxHistoryChars bounds stored session history. Defaults to 8000.
	MaxHistoryChars int

	// Params tunes generation calls.
	Params docmate.GenerationParams
	// Retry is the provider retry policy, shared by embedding and
	// generation calls. An unset config falls back to the defaults; set
	// Disabled for a deliberate single-attempt policy.
	Retry provider.RetryConfig

	// FollowUps enables best-effort follow-up question generation after
	// each answer.
	FollowUps bool

	Logger log.Logger
}

// Pipeline is the top-level API over one document corpus.
type Pipeline struct {
	chunker   *chunker.Chunker
	index     *index.Index
	retriever *retriever.Retriever
	builder   *prompt.Builder
	generator *answer.Generator
	sessions  *session.Manager
	snapshots snapshot.Store
	followUps bool
	logger    log.Logger

	watch *watchRegistry
}

// Stats summarizes the pipeline's current state.
type Stats struct {
	Documents       int `json:"documents"`
	Chunks          int `json:"chunks"`
	Sessions        int `json:"sessions"`
	VectorDimension int `json:"vector_dimension"`
}

// New assembles a Pipeline from Options.
func New(opts Options) (*Pipeline, error) {
	if opts.Embedder == nil {
		return nil, fmt.Errorf("pipeline: embedding provider is required")
	}
	if opts.Primary == nil {
		return nil, fmt.Errorf("pipeline: primary generation provider is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	retryCfg := opts.Retry
	if retryCfg.IsZero() {
		retryCfg = provider.DefaultRetryConfig()
	}

	var chunkOpts []chunker.Option
	if opts.ChunkSize > 0 {
		chunkOpts = append(chunkOpts, chunker.WithChunkSize(opts.ChunkSize))
	}
	if opts.Overlap > 0 {
		chunkOpts = append(chunkOpts, chunker.WithOverlap(opts.Overlap))
	}
	if opts.MinChunkSize > 0 {
		chunkOpts = append(chunkOpts, chunker.WithMinChunkSize(opts.MinChunkSize))
	}
	if opts.SnapWindow > 0 {
		chunkOpts = append(chunkOpts, chunker.WithSnapWindow(opts.SnapWindow))
	}
	ck, err := chunker.New(chunkOpts...)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	ix := index.New(opts.Embedder, index.WithLogger(logger), index.WithRetry(retryCfg))

	retrCfg := retriever.DefaultConfig()
	if opts.RetrievalK > 0 {
		retrCfg.K = opts.RetrievalK
	}
	if opts.ScoreThreshold > 0 {
		retrCfg.ScoreThreshold = opts.ScoreThreshold
	}
	if opts.ChunkSize > 0 {
		retrCfg.ChunkSize = opts.ChunkSize
	}
	retrCfg.Retry = retryCfg
	retr := retriever.New(ix, opts.Embedder, retrCfg)

	budget := opts.ContextBudget
	if budget <= 0 {
		budget = 4000
	}
	builder, err := prompt.NewBuilder(budget)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	genOpts := []answer.Option{
		answer.WithParams(opts.Params),
		answer.WithRetry(retryCfg),
		answer.WithLogger(logger),
	}
	if opts.Fallback != nil {
		genOpts = append(genOpts, answer.WithFallback(opts.Fallback))
	}
	gen, err := answer.New(opts.Primary, genOpts...)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	sessStore := opts.Sessions
	if sessStore == nil {
		sessStore = session.NewMemoryStore()
	}
	sessOpts := []session.ManagerOption{session.WithLogger(logger)}
	if opts.MaxHistoryChars > 0 {
		sessOpts = append(sessOpts, session.WithMaxHistoryChars(opts.MaxHistoryChars))
	}

	return &Pipeline{
		chunker:   ck,
		index:     ix,
		retriever: retr,
		builder:   builder,
		generator: gen,
		sessions:  session.NewManager(sessStore, sessOpts...),
		snapshots: opts.Snapshots,
		followUps: opts.FollowUps,
		logger:    logger,
		watch:     newWatchRegistry(),
	}, nil
}

// Ingest chunks and indexes a document. An empty documentID gets a
// generated one. Re-ingesting an existing id replaces the document
// atomically. When a snapshot store is configured the indexed state is
// persisted so Restore can rebuild it without re-embedding.
func (p *Pipeline) Ingest(ctx context.Context, documentID, title, text string, metadata map[string]any) (docmate.Document, error) {
	if documentID == "" {
		documentID = uuid.NewString()
	}

	chunks, err := p.chunker.Chunk(documentID, text)
	if err != nil {
		return docmate.Document{}, fmt.Errorf("ingesting %s: %w", documentID, err)
	}
	if len(chunks) == 0 {
		return docmate.Document{}, fmt.Errorf("ingesting %s: empty document: %w", documentID, docmate.ErrInvalidDocument)
	}

	doc := docmate.Document{
		ID:        documentID,
		Title:     title,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	if err := p.index.Add(ctx, doc, chunks); err != nil {
		return docmate.Document{}, fmt.Errorf("ingesting %s: %w", documentID, err)
	}

	if p.snapshots != nil {
		if err := p.index.Snapshot(ctx, p.snapshots, documentID); err != nil {
			p.logger.Warn("snapshot of document %s failed: %v", documentID, err)
		}
	}
	return doc, nil
}

// Ask answers a question within a session. The session's history informs
// context assembly and the completed exchange is appended to it. A second
// concurrent Ask on the same session fails with ErrSessionBusy. Removing
// a document cited by an in-flight Ask cancels that Ask.
func (p *Pipeline) Ask(ctx context.Context, sessionID, question string) (*docmate.Answer, error) {
	sess, release, err := p.sessions.Begin(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	askCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results, err := p.retriever.Retrieve(askCtx, question)
	if err != nil {
		return nil, fmt.Errorf("answering in session %s: %w", sessionID, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("answering in session %s: %w", sessionID, docmate.ErrNoRelevantContext)
	}
	if err := askCtx.Err(); err != nil {
		return nil, err
	}

	// From here on a RemoveDocument of any retrieved document cancels
	// this question. A removal that completed between retrieval and
	// registration fired no cancel, so re-verify the cited documents are
	// still indexed now that the watch is in place.
	ids := docIDs(results)
	unregister := p.watch.register(ids, cancel)
	defer unregister()
	if gone := p.missingDocument(ids); gone != "" {
		return nil, fmt.Errorf("answering in session %s: document %s removed: %w",
			sessionID, gone, context.Canceled)
	}

	asm, err := p.builder.Assemble(results, sess.Turns)
	if err != nil {
		return nil, fmt.Errorf("answering in session %s: %w", sessionID, err)
	}
	if err := askCtx.Err(); err != nil {
		return nil, err
	}

	ans, err := p.generator.Generate(askCtx, asm, question, p.titleFor(results[0].Chunk.DocumentID))
	if err != nil {
		return nil, fmt.Errorf("answering in session %s: %w", sessionID, err)
	}
	if err := askCtx.Err(); err != nil {
		return nil, err
	}

	if p.followUps {
		ans.FollowUps = p.generator.FollowUps(askCtx, question, ans.Text)
	}

	turn := docmate.ConversationTurn{
		Question:  question,
		Answer:    ans.Text,
		Citations: ans.Citations,
		Provider:  ans.Provider,
		CreatedAt: time.Now(),
	}
	if err := p.sessions.Commit(ctx, sess, turn); err != nil {
		return nil, err
	}
	return ans, nil
}

// Summarize generates a summary of a document from its leading chunks,
// bounded by the context budget.
func (p *Pipeline) Summarize(ctx context.Context, documentID string) (string, error) {
	chunks, err := p.index.Chunks(documentID)
	if err != nil {
		return "", fmt.Errorf("summarizing %s: %w", documentID, err)
	}
	doc, err := p.index.Document(documentID)
	if err != nil {
		return "", fmt.Errorf("summarizing %s: %w", documentID, err)
	}

	// Leading chunks first: descending pseudo-scores make the greedy
	// packer keep document order.
	results := make([]docmate.RetrievalResult, len(chunks))
	for i, ch := range chunks {
		results[i] = docmate.RetrievalResult{Chunk: ch, Score: 1 - float64(i)/float64(len(chunks)+1)}
	}
	asm, err := p.builder.Assemble(results, nil)
	if err != nil {
		return "", fmt.Errorf("summarizing %s: %w", documentID, err)
	}

	summary, _, err := p.generator.Summarize(ctx, asm, doc.Title)
	if err != nil {
		return "", fmt.Errorf("summarizing %s: %w", documentID, err)
	}
	return summary, nil
}

// ResetSession clears a session's history. It works from any state,
// including while a question is in flight.
func (p *Pipeline) ResetSession(ctx context.Context, sessionID string) error {
	return p.sessions.Reset(ctx, sessionID)
}

// RemoveDocument removes a document from the index and its snapshot, and
// cancels any in-flight Ask whose retrieved context includes it.
func (p *Pipeline) RemoveDocument(ctx context.Context, documentID string) error {
	if !p.index.HasDocument(documentID) {
		return fmt.Errorf("removing %s: %w", documentID, docmate.ErrDocumentNotFound)
	}

	p.watch.cancelAll(documentID)
	p.index.Remove(documentID)

	if p.snapshots != nil {
		if err := p.snapshots.DeleteDocument(ctx, documentID); err != nil {
			return fmt.Errorf("removing %s: deleting snapshot: %w", documentID, err)
		}
	}
	p.logger.Info("removed document %s", documentID)
	return nil
}

// Restore rebuilds the index from the configured snapshot store without
// calling the embedding provider.
func (p *Pipeline) Restore(ctx context.Context) error {
	if p.snapshots == nil {
		return fmt.Errorf("pipeline: no snapshot store configured")
	}
	return p.index.Restore(ctx, p.snapshots)
}

// Documents lists the indexed documents.
func (p *Pipeline) Documents() []docmate.Document {
	return p.index.Documents()
}

// GetStats reports corpus and session counts.
func (p *Pipeline) GetStats(ctx context.Context) (Stats, error) {
	ixStats := p.index.GetStats()
	nSessions, err := p.sessions.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("counting sessions: %w", err)
	}
	return Stats{
		Documents:       ixStats.Documents,
		Chunks:          ixStats.Chunks,
		Sessions:        nSessions,
		VectorDimension: ixStats.Dimension,
	}, nil
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

func (p *Pipeline) titleFor(documentID string) string {
	doc, err := p.index.Document(documentID)
	if err != nil {
		return documentID
	}
	if doc.Title == "" {
		return doc.ID
	}
	return doc.Title
}

// missingDocument returns the first id no longer present in the index,
// or "" when all are still indexed.
func (p *Pipeline) missingDocument(ids []string) string {
	for _, id := range ids {
		if !p.index.HasDocument(id) {
			return id
		}
	}
	return ""
}

func docIDs(results []docmate.RetrievalResult) []string {
	seen := make(map[string]bool, len(results))
	ids := make([]string, 0, len(results))
	for _, r := range results {
		if !seen[r.Chunk.DocumentID] {
			seen[r.Chunk.DocumentID] = true
			ids = append(ids, r.Chunk.DocumentID)
		}
	}
	sort.Strings(ids)
	return ids
}
