package structurer

import (
	"fmt"
	"regexp"
	"strings"

	"handbookrag/internal/domain"
)

// Built-in heading patterns. Headings must start a line so that inline
// cross references ("see Article 3") are not mistaken for clause starts.
const (
	articlePattern = `(?im)^[ \t]*(?P<id>article[ \t]+\d+)[ \t]*[.:]?`
	chinesePattern = `(?m)^[ \t]*(?P<id>第[ \t]*[一二三四五六七八九十百千万零〇两0-9]+[ \t]*条)[ \t：:]*`
)

// RegexMatcher detects headings with a regular expression. When the
// pattern has a named group "id" that group becomes the clause id,
// otherwise the whole match is used.
type RegexMatcher struct {
	name string
	re   *regexp.Regexp
	norm func(string) string
}

var _ domain.HeadingMatcher = (*RegexMatcher)(nil)

// NewRegexMatcher compiles pattern into a heading matcher.
func NewRegexMatcher(name, pattern string) (*RegexMatcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: heading pattern %q: %v", domain.ErrStructuring, pattern, err)
	}
	return &RegexMatcher{name: name, re: re, norm: collapseSpaces}, nil
}

// ArticleMatcher matches English headings such as "Article 7".
func ArticleMatcher() *RegexMatcher {
	return &RegexMatcher{
		name: "article",
		re:   regexp.MustCompile(articlePattern),
		norm: func(s string) string {
			f := strings.Fields(s)
			// "ARTICLE 7" and "article 7" are the same clause.
			return "Article " + f[len(f)-1]
		},
	}
}

// ChineseClauseMatcher matches headings such as "第十二条" or "第 12 条".
func ChineseClauseMatcher() *RegexMatcher {
	return &RegexMatcher{
		name: "chinese",
		re:   regexp.MustCompile(chinesePattern),
		norm: func(s string) string { return strings.Join(strings.Fields(s), "") },
	}
}

// Name returns the matcher identifier.
func (m *RegexMatcher) Name() string { return m.name }

// FindHeadings returns all headings in document order.
func (m *RegexMatcher) FindHeadings(text string) []domain.Heading {
	idx := m.re.SubexpIndex("id")
	locs := m.re.FindAllStringSubmatchIndex(text, -1)
	out := make([]domain.Heading, 0, len(locs))
	for _, loc := range locs {
		raw := text[loc[0]:loc[1]]
		if idx > 0 && loc[2*idx] >= 0 {
			raw = text[loc[2*idx]:loc[2*idx+1]]
		}
		out = append(out, domain.Heading{
			ClauseID: m.norm(raw),
			Start:    loc[0],
			End:      loc[1],
		})
	}
	return out
}

// MatcherByName resolves a configured matcher. A non-empty pattern
// always wins and yields a custom RegexMatcher.
func MatcherByName(name, pattern string) (domain.HeadingMatcher, error) {
	if pattern != "" {
		if name == "" {
			name = "regex"
		}
		return NewRegexMatcher(name, pattern)
	}
	switch name {
	case "article", "":
		return ArticleMatcher(), nil
	case "chinese":
		return ChineseClauseMatcher(), nil
	default:
		return nil, fmt.Errorf("%w: unknown heading matcher %q", domain.ErrInvalidArgument, name)
	}
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
