package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// Inputs is the opaque text handed to the context builder.
type Inputs struct {
	Repository string
	Document   string
	Codebase   string
	DocText    string
}

// Gather analyzes the repository and parses the document concurrently.
// Either location may be empty, in which case its text stays empty. A nil
// logger uses the default one.
func Gather(ctx context.Context, logger *slog.Logger, analyzer *Analyzer, repo, document string) (Inputs, error) {
	if logger == nil {
		logger = slog.Default()
	}
	in := Inputs{}
	if repo != "" {
		in.Repository = filepath.Base(filepath.Clean(repo))
	}
	if document != "" {
		in.Document = filepath.Base(document)
	}

	g, gctx := errgroup.WithContext(ctx)

	if repo != "" {
		g.Go(func() error {
			summary, err := analyzer.Analyze(gctx, repo)
			if err != nil {
				return fmt.Errorf("analyzing codebase: %w", err)
			}
			in.Codebase = summary
			return nil
		})
	}

	if document != "" {
		g.Go(func() error {
			doc, err := ParseDocument(document)
			if err != nil {
				return fmt.Errorf("parsing document: %w", err)
			}
			in.DocText = doc
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Inputs{}, err
	}

	logger.Debug("inputs gathered", "repository", in.Repository, "document", in.Document,
		"codeBytes", len(in.Codebase), "docBytes", len(in.DocText))
	return in, nil
}
