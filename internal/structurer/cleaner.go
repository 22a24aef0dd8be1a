package structurer

import (
	"fmt"
	"regexp"

	"handbookrag/internal/domain"
)

// DefaultNoisePatterns remove page markers left behind by PDF extraction.
var DefaultNoisePatterns = []string{
	`--- 第 \d+ 页 ---`,
	`第 \d+ 页/共 \d+ ?页`,
	`(?m)^[ \t]*Page \d+ of \d+[ \t]*$`,
}

// Cleaner strips non-content noise (page headers and footers) from
// raw text before headings are detected.
type Cleaner struct {
	patterns []*regexp.Regexp
}

// NewCleaner compiles the given patterns.
func NewCleaner(patterns []string) (*Cleaner, error) {
	c := &Cleaner{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: noise pattern %q: %v", domain.ErrInvalidArgument, p, err)
		}
		c.patterns = append(c.patterns, re)
	}
	return c, nil
}

// Clean removes every noise match from text.
func (c *Cleaner) Clean(text string) string {
	if c == nil {
		return text
	}
	for _, re := range c.patterns {
		text = re.ReplaceAllString(text, "")
	}
	return text
}
