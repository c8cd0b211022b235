// DocMate - Grounded Document Question Answering in Go
//
// DocMate is a retrieval-augmented question-answering pipeline: upload
// document text, ask natural-language questions, and get answers grounded
// in retrieved passages with citations back to the exact chunks used.
//
// # Quick Start
//
// Install the package:
//
//	go get github.com/docmate-ai/docmate
//
// Basic example:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//
//		"github.com/docmate-ai/docmate/pipeline"
//		"github.com/docmate-ai/docmate/provider/openai"
//	)
//
//	func main() {
//		cfg := openai.Config{APIKey: os.Getenv("OPENAI_API_KEY")}
//		embedder, _ := openai.NewEmbedder(cfg)
//		primary, _ := openai.NewGenerator(cfg)
//
//		p, _ := pipeline.New(pipeline.Options{
//			Embedder: embedder,
//			Primary:  primary,
//		})
//
//		ctx := context.Background()
//		p.Ingest(ctx, "notes", "Lecture Notes", rawText, nil)
//
//		ans, _ := p.Ask(ctx, "session-1", "What is gradient descent?")
//		fmt.Println(ans.Text, ans.Citations)
//	}
//
// # Key Features
//
//   - Deterministic chunking: sliding windows snapped to sentence breaks,
//     with configurable overlap and provenance offsets
//   - In-memory cosine index with atomic per-document mutation and
//     deterministic ranking
//   - Budgeted context assembly that never truncates a passage mid-text
//   - Primary/fallback answer generation with bounded retries and an
//     explicit provider tag on every answer
//   - Per-session conversation state with history trimming and explicit
//     reset
//   - Index snapshots persisted to SQLite, Postgres, or flat files and
//     restored without re-embedding
//
// Package docmate holds the shared data model and error taxonomy; the
// pipeline itself lives in the subpackages chunker, index, retriever,
// prompt, answer, session, and pipeline.
package docmate
