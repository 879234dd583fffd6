// Package highlight builds syntax-highlighting configurations from a
// tree-sitter language and its highlights, injections and locals queries.
//
// Generated grammar bindings call NewConfiguration from their Config
// constructors; applications call Configure with the highlight names their
// theme understands.
package highlight

import (
	"slices"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// Capture names with special meaning to a highlighter.
const (
	CaptureInjectionContent     = "injection.content"
	CaptureInjectionLanguage    = "injection.language"
	CaptureLocalDefinition      = "local.definition"
	CaptureLocalDefinitionValue = "local.definition-value"
	CaptureLocalReference       = "local.reference"
	CaptureLocalScope           = "local.scope"
)

// NoCapture marks a special capture the queries do not use.
const NoCapture = -1

// Configuration is one compiled query covering injections, locals and
// highlights, with the pattern ranges of each section recorded.
//
// Patterns [0, LocalsPatternIndex) come from the injections query,
// [LocalsPatternIndex, HighlightsPatternIndex) from the locals query and
// the rest from the highlights query.
type Configuration struct {
	Language *tree_sitter.Language
	Query    *tree_sitter.Query

	LocalsPatternIndex     uint
	HighlightsPatternIndex uint

	// Capture indices of the special captures, or NoCapture.
	InjectionContentCaptureIndex  int
	InjectionLanguageCaptureIndex int
	LocalDefCaptureIndex          int
	LocalDefValueCaptureIndex     int
	LocalRefCaptureIndex          int
	LocalScopeCaptureIndex        int

	// NonLocalPatterns[i] is true when pattern i carries (#is-not? local).
	NonLocalPatterns []bool

	names            []string
	highlightIndices []int
}

// NewConfiguration compiles injections + locals + highlights as a single
// query. Any query may be empty. A query that fails to compile is returned
// as a *tree_sitter.QueryError; offsets in it refer to the concatenated
// source.
func NewConfiguration(lang *tree_sitter.Language, highlights, injections, locals string) (*Configuration, error) {
	var src strings.Builder
	src.WriteString(injections)
	localsOffset := uint(src.Len())
	src.WriteString(locals)
	highlightsOffset := uint(src.Len())
	src.WriteString(highlights)

	query, qerr := tree_sitter.NewQuery(lang, src.String())
	if qerr != nil {
		return nil, qerr
	}

	c := &Configuration{
		Language:                      lang,
		Query:                         query,
		InjectionContentCaptureIndex:  NoCapture,
		InjectionLanguageCaptureIndex: NoCapture,
		LocalDefCaptureIndex:          NoCapture,
		LocalDefValueCaptureIndex:     NoCapture,
		LocalRefCaptureIndex:          NoCapture,
		LocalScopeCaptureIndex:        NoCapture,
		names:                         query.CaptureNames(),
	}

	count := query.PatternCount()
	c.NonLocalPatterns = make([]bool, count)
	for i := uint(0); i < count; i++ {
		start := query.StartByteForPattern(i)
		if start < highlightsOffset {
			c.HighlightsPatternIndex++
			if start < localsOffset {
				c.LocalsPatternIndex++
			}
		}
		for _, p := range query.PropertyPredicates(i) {
			if !p.Positive && p.Property.Key == "local" {
				c.NonLocalPatterns[i] = true
			}
		}
	}

	for i, name := range c.names {
		switch name {
		case CaptureInjectionContent:
			c.InjectionContentCaptureIndex = i
		case CaptureInjectionLanguage:
			c.InjectionLanguageCaptureIndex = i
		case CaptureLocalDefinition:
			c.LocalDefCaptureIndex = i
		case CaptureLocalDefinitionValue:
			c.LocalDefValueCaptureIndex = i
		case CaptureLocalReference:
			c.LocalRefCaptureIndex = i
		case CaptureLocalScope:
			c.LocalScopeCaptureIndex = i
		}
	}

	c.highlightIndices = make([]int, len(c.names))
	for i := range c.highlightIndices {
		c.highlightIndices[i] = NoCapture
	}
	return c, nil
}

// Names returns the capture names of the combined query, in capture order.
func (c *Configuration) Names() []string {
	return c.names
}

// Configure maps each capture to one of the recognized highlight names.
// A recognized name matches a capture when all of its dot-separated parts
// appear among the capture's parts; the match with the most parts wins, and
// earlier names win ties. "function.builtin" therefore maps to
// "function.builtin" when listed, else to "function".
func (c *Configuration) Configure(recognized []string) {
	split := make([][]string, len(recognized))
	for i, r := range recognized {
		split[i] = strings.Split(r, ".")
	}

	for ci, name := range c.names {
		parts := strings.Split(name, ".")
		best, bestLen := NoCapture, 0
		for ri, rparts := range split {
			if len(rparts) > bestLen && containsAll(parts, rparts) {
				best, bestLen = ri, len(rparts)
			}
		}
		c.highlightIndices[ci] = best
	}
}

// HighlightIndex returns the recognized-name index the capture maps to after
// Configure, or NoCapture.
func (c *Configuration) HighlightIndex(capture uint) int {
	if int(capture) >= len(c.highlightIndices) {
		return NoCapture
	}
	return c.highlightIndices[capture]
}

// Close releases the compiled query.
func (c *Configuration) Close() {
	if c.Query != nil {
		c.Query.Close()
		c.Query = nil
	}
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}
