// Package structurer turns raw handbook text into ordered clause records.
package structurer

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"handbookrag/internal/domain"
)

// tocMaxRunes is the body length under which a record that contains an
// ellipsis is treated as a table-of-contents line.
const tocMaxRunes = 20

// DefaultSectionBreakPattern matches chapter headings (第三章) and the
// supplementary-provisions heading (附则) at the start of a line.
const DefaultSectionBreakPattern = `(?m)^[ \t]*(?:第[一二三四五六七八九十百千万零〇0-9]+章|附[ \t]*则)`

// Options tune how clause bodies are produced.
type Options struct {
	// Cleaner removes page noise before heading detection. Optional.
	Cleaner *Cleaner
	// SkipTOC drops table-of-contents entries (short bodies with dot leaders).
	SkipTOC bool
	// CollapseWhitespace folds whitespace runs inside a body into one space.
	CollapseWhitespace bool
	// SectionBreak ends a clause body at its first match, so chapter
	// headings between clauses are not folded into the preceding body.
	// Optional.
	SectionBreak *regexp.Regexp
}

// Structurer splits a document at clause headings.
type Structurer struct {
	matcher domain.HeadingMatcher
	opts    Options
}

// New creates a Structurer using the given heading matcher.
func New(matcher domain.HeadingMatcher, opts Options) *Structurer {
	if matcher == nil {
		matcher = ArticleMatcher()
	}
	return &Structurer{matcher: matcher, opts: opts}
}

// Matcher returns the heading matcher in use.
func (s *Structurer) Matcher() domain.HeadingMatcher { return s.matcher }

// Structure returns one record per recognised heading, in document order.
// Text before the first heading is dropped. A document without headings
// yields an empty result and no error.
func (s *Structurer) Structure(text string) ([]domain.ClauseRecord, error) {
	text = s.opts.Cleaner.Clean(text)
	headings := s.matcher.FindHeadings(text)
	if len(headings) == 0 {
		return nil, nil
	}

	records := make([]domain.ClauseRecord, 0, len(headings))
	seen := make(map[string]int, len(headings))
	for i, h := range headings {
		if h.ClauseID == "" {
			return nil, fmt.Errorf("%w: heading at offset %d has no clause id", domain.ErrStructuring, h.Start)
		}
		end := len(text)
		if i+1 < len(headings) {
			end = headings[i+1].Start
		}
		if h.End > end || h.Start > h.End {
			return nil, fmt.Errorf("%w: heading %q overlaps the next heading", domain.ErrStructuring, h.ClauseID)
		}

		span := text[h.End:end]
		if s.opts.SectionBreak != nil {
			if loc := s.opts.SectionBreak.FindStringIndex(span); loc != nil {
				span = span[:loc[0]]
			}
		}
		body := strings.TrimSpace(span)
		if s.opts.CollapseWhitespace {
			body = strings.Join(strings.Fields(body), " ")
		}
		if s.opts.SkipTOC && isTOCEntry(body) {
			continue
		}
		if prev, dup := seen[h.ClauseID]; dup {
			return nil, fmt.Errorf("%w: %q at records %d and %d", domain.ErrDuplicateClause, h.ClauseID, prev, len(records))
		}
		seen[h.ClauseID] = len(records)
		records = append(records, domain.ClauseRecord{ClauseID: h.ClauseID, Body: body})
	}
	return records, nil
}

func isTOCEntry(body string) bool {
	if utf8.RuneCountInString(body) >= tocMaxRunes {
		return false
	}
	return strings.Contains(body, "...") || strings.Contains(body, "…")
}
