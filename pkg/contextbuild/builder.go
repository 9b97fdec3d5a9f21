// Package contextbuild merges codebase analysis and requirements text into a
// token-bounded ContextBundle.
//
// The document is required in full: it defines the audience and goals. The
// metadata block is kept next when it fits, and the code summary fills
// whatever budget remains, truncated on a line boundary.
package contextbuild

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/systemstart/showrunner/pkg/api"
)

// charsPerToken is the estimate used for every budget decision.
const charsPerToken = 4

// Input is the raw material for one bundle.
type Input struct {
	Repository string
	Document   string
	Codebase   string
	DocText    string
	// Metadata is rendered as sorted "key: value" lines.
	Metadata map[string]string
}

// EstimateTokens approximates the token count of s as ceil(runes/4).
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + charsPerToken - 1) / charsPerToken
}

// Build produces the bundle for in under budget tokens. It fails with
// api.ErrContextOverflow when the document alone exceeds the budget.
func Build(in Input, budget int) (api.ContextBundle, error) {
	if budget <= 0 {
		return api.ContextBundle{}, fmt.Errorf("%w: token budget must be positive, got %d", api.ErrConfigInvalid, budget)
	}

	doc := strings.TrimSpace(in.DocText)
	docTokens := EstimateTokens(doc)
	if docTokens > budget {
		return api.ContextBundle{}, fmt.Errorf("%w: document needs %d tokens, budget is %d",
			api.ErrContextOverflow, docTokens, budget)
	}
	remaining := budget - docTokens

	meta, metaTruncated := truncate(renderMetadata(in.Metadata), remaining)
	metaTokens := EstimateTokens(meta)
	remaining -= metaTokens

	code, codeTruncated := truncate(strings.TrimSpace(in.Codebase), remaining)

	var segments []api.Segment
	if meta != "" {
		segments = append(segments, api.Segment{
			Kind:      api.SegmentMetadata,
			Source:    "run",
			Text:      meta,
			Tokens:    metaTokens,
			Truncated: metaTruncated,
		})
	}
	if doc != "" {
		segments = append(segments, api.Segment{
			Kind:   api.SegmentDoc,
			Source: in.Document,
			Text:   doc,
			Tokens: docTokens,
		})
	}
	if code != "" || codeTruncated {
		segments = append(segments, api.Segment{
			Kind:      api.SegmentCode,
			Source:    in.Repository,
			Text:      code,
			Tokens:    EstimateTokens(code),
			Truncated: codeTruncated,
		})
	}

	return api.NewContextBundle(budget, segments...), nil
}

// Summarize describes a bundle for the result's analysis summary.
func Summarize(in Input, b api.ContextBundle) api.AnalysisSummary {
	s := api.AnalysisSummary{
		Repository: in.Repository,
		Document:   in.Document,
		Budget:     b.Budget(),
	}
	for _, seg := range b.Segments() {
		s.Segments++
		switch seg.Kind {
		case api.SegmentCode:
			s.CodeTokens = seg.Tokens
			s.CodeTruncated = seg.Truncated
		case api.SegmentDoc:
			s.DocTokens = seg.Tokens
		case api.SegmentMetadata:
			s.MetadataTokens = seg.Tokens
		}
	}
	return s
}

// MergeMetadata performs a shallow merge of local over global metadata.
func MergeMetadata(global, local map[string]string) map[string]string {
	merged := make(map[string]string, len(global)+len(local))
	maps.Copy(merged, global)
	maps.Copy(merged, local)
	return merged
}

func renderMetadata(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := slices.Sorted(maps.Keys(m))
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, m[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

// truncate cuts s to at most tokens, preferring the last line boundary.
func truncate(s string, tokens int) (string, bool) {
	if s == "" {
		return "", false
	}
	if EstimateTokens(s) <= tokens {
		return s, false
	}
	if tokens <= 0 {
		return "", true
	}

	maxRunes := tokens * charsPerToken
	cut := s
	n := 0
	for i := range s {
		if n == maxRunes {
			cut = s[:i]
			break
		}
		n++
	}
	if idx := strings.LastIndexByte(cut, '\n'); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " \t\n"), true
}
