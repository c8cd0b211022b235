package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/docmate-ai/docmate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(id string, score float64, size int) docmate.RetrievalResult {
	return docmate.RetrievalResult{
		Chunk: docmate.Chunk{
			ID:         id,
			DocumentID: "doc",
			Text:       strings.Repeat("x", size),
			Chars:      size,
		},
		Score: score,
	}
}

func turn(q, a string) docmate.ConversationTurn {
	return docmate.ConversationTurn{
		Question:  q,
		Answer:    a,
		Provider:  docmate.ProviderPrimary,
		CreatedAt: time.Now(),
	}
}

func TestBuilder_GreedyWholeChunkPacking(t *testing.T) {
	b, err := NewBuilder(1000)
	require.NoError(t, err)

	// Sizes 600, 500, 300 by descending score: the 500 chunk would
	// overflow and is skipped whole; the 300 chunk fits the remainder.
	retrieved := []docmate.RetrievalResult{
		result("doc:00000", 0.9, 600),
		result("doc:00001", 0.8, 500),
		result("doc:00002", 0.7, 300),
	}

	asm, err := b.Assemble(retrieved, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"doc:00000", "doc:00002"}, asm.ChunkIDs)
	assert.Equal(t, 900, asm.ContentSize)
	assert.LessOrEqual(t, asm.ContentSize, b.Budget())
}

func TestBuilder_NeverTruncates(t *testing.T) {
	b, err := NewBuilder(100)
	require.NoError(t, err)

	asm, err := b.Assemble([]docmate.RetrievalResult{
		result("doc:00000", 0.9, 80),
		result("doc:00001", 0.8, 60),
	}, nil)
	require.NoError(t, err)

	// The second chunk is skipped entirely, not partially included.
	assert.Equal(t, []string{"doc:00000"}, asm.ChunkIDs)
	assert.Equal(t, 80, asm.ContentSize)
	assert.NotContains(t, asm.Text, strings.Repeat("x", 81))
}

func TestBuilder_BudgetExceeded(t *testing.T) {
	b, err := NewBuilder(50)
	require.NoError(t, err)

	_, err = b.Assemble([]docmate.RetrievalResult{result("doc:00000", 0.9, 200)}, nil)
	assert.ErrorIs(t, err, docmate.ErrBudgetExceeded)
}

func TestBuilder_EmptyRetrieval(t *testing.T) {
	b, err := NewBuilder(100)
	require.NoError(t, err)

	asm, err := b.Assemble(nil, []docmate.ConversationTurn{turn("q", "a")})
	require.NoError(t, err)
	assert.Empty(t, asm.ChunkIDs)
	assert.Equal(t, 1, asm.Turns)
}

func TestBuilder_HistoryNewestFirst(t *testing.T) {
	b, err := NewBuilder(100)
	require.NoError(t, err)

	// Chunk uses 40; each turn is 20 chars, so only the three most
	// recent turns fit into the remaining 60.
	history := []docmate.ConversationTurn{
		turn("oldest one", "a" + strings.Repeat("1", 9)),
		turn("second one", "a" + strings.Repeat("2", 9)),
		turn("third  one", "a" + strings.Repeat("3", 9)),
		turn("newest one", "a" + strings.Repeat("4", 9)),
	}

	asm, err := b.Assemble([]docmate.RetrievalResult{result("doc:00000", 0.9, 40)}, history)
	require.NoError(t, err)

	assert.Equal(t, 3, asm.Turns)
	assert.Equal(t, 100, asm.ContentSize)
	assert.Contains(t, asm.Text, "newest one")
	assert.Contains(t, asm.Text, "second one")
	assert.NotContains(t, asm.Text, "oldest one")

	// Retained turns render in chronological order.
	second := strings.Index(asm.Text, "second one")
	newest := strings.Index(asm.Text, "newest one")
	assert.Less(t, second, newest)
}

func TestBuilder_Idempotent(t *testing.T) {
	b, err := NewBuilder(500)
	require.NoError(t, err)

	retrieved := []docmate.RetrievalResult{
		result("doc:00000", 0.95, 200),
		result("doc:00001", 0.90, 250),
		result("doc:00002", 0.85, 100),
	}
	history := []docmate.ConversationTurn{turn("what", "that")}

	first, err := b.Assemble(retrieved, history)
	require.NoError(t, err)
	second, err := b.Assemble(retrieved, history)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestBuilder_InvalidBudget(t *testing.T) {
	_, err := NewBuilder(0)
	assert.Error(t, err)
	_, err = NewBuilder(-5)
	assert.Error(t, err)
}

func TestAnswerPrompt(t *testing.T) {
	b, err := NewBuilder(100)
	require.NoError(t, err)
	asm, err := b.Assemble([]docmate.RetrievalResult{result("doc:00000", 0.9, 20)}, nil)
	require.NoError(t, err)

	p := AnswerPrompt(asm, "what is this?", "My Notes")
	assert.Contains(t, p, "My Notes")
	assert.Contains(t, p, "what is this?")
	assert.Contains(t, p, asm.Text)
}
