// Package prompt assembles the bounded context fed to answer generation:
// retrieved passages packed greedily by score, then recent conversation
// turns into whatever budget remains.
package prompt

import (
	"fmt"
	"strings"

	"github.com/docmate-ai/docmate"
)

// Assembled is the output of one context assembly. Re-running assembly
// with identical inputs yields an identical Assembled.
type Assembled struct {
	// Text is the rendered context block.
	Text string
	// ChunkIDs lists the chunks included, in inclusion order. These are
	// the citations for the eventual answer.
	ChunkIDs []string
	// Scores mirrors ChunkIDs with each chunk's retrieval score.
	Scores []float64
	// ContentSize is the budgeted size: characters of chunk text plus
	// characters of included history turns. Framing (section labels,
	// separators) is not counted against the budget.
	ContentSize int
	// Turns is how many conversation turns were included.
	Turns int
}

// Builder assembles contexts under a fixed character budget.
type Builder struct {
	budget int
}

// NewBuilder creates a Builder. The budget must be positive.
func NewBuilder(budget int) (*Builder, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("prompt: budget must be positive, got %d", budget)
	}
	return &Builder{budget: budget}, nil
}

// Budget returns the configured character budget.
func (b *Builder) Budget() int { return b.budget }

// Assemble packs retrieved chunks in descending score order, skipping any
// chunk that does not fit whole, then fills remaining budget with the most
// recent conversation turns. A chunk is never truncated mid-text. When
// retrieved is non-empty but nothing fits, ErrBudgetExceeded is returned.
func (b *Builder) Assemble(retrieved []docmate.RetrievalResult, history []docmate.ConversationTurn) (*Assembled, error) {
	asm := &Assembled{}
	remaining := b.budget

	var included []docmate.RetrievalResult
	for _, res := range retrieved {
		if res.Chunk.Chars > remaining {
			continue
		}
		included = append(included, res)
		remaining -= res.Chunk.Chars
		asm.ChunkIDs = append(asm.ChunkIDs, res.Chunk.ID)
		asm.Scores = append(asm.Scores, res.Score)
	}

	if len(retrieved) > 0 && len(included) == 0 {
		return nil, fmt.Errorf("prompt: no chunk fits in budget %d: %w",
			b.budget, docmate.ErrBudgetExceeded)
	}

	// Most recent turns first when choosing, oldest dropped first.
	var turns []docmate.ConversationTurn
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Size() > remaining {
			break
		}
		turns = append(turns, history[i])
		remaining -= history[i].Size()
	}

	asm.ContentSize = b.budget - remaining
	asm.Turns = len(turns)
	asm.Text = render(included, turns)
	return asm, nil
}

// render lays out the context block: passages first, then the retained
// turns in chronological order.
func render(included []docmate.RetrievalResult, turns []docmate.ConversationTurn) string {
	var sb strings.Builder

	for i, res := range included {
		fmt.Fprintf(&sb, "[Context %d] (%s)\n%s\n\n", i+1, res.Chunk.ID, res.Chunk.Text)
	}

	if len(turns) > 0 {
		sb.WriteString("Recent conversation:\n")
		for i := len(turns) - 1; i >= 0; i-- {
			fmt.Fprintf(&sb, "Q: %s\nA: %s\n", turns[i].Question, turns[i].Answer)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
