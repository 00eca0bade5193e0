package index

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"

	"github.com/Aman-CERP/issueindex/internal/document"
)

const (
	// TextTokenizerName splits prose and identifiers found in issue text.
	TextTokenizerName = "issue_tokenizer"

	// TextStopFilterName drops English stop words.
	TextStopFilterName = "issue_stop"

	// TextAnalyzerName is the default analyzer for analyzed fields.
	TextAnalyzerName = "issue_text"
)

func init() {
	_ = registry.RegisterTokenizer(TextTokenizerName, textTokenizerConstructor)
	_ = registry.RegisterTokenFilter(TextStopFilterName, textStopFilterConstructor)
}

// DefaultStopWords are dropped by the text analyzer.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "for", "if", "in",
	"into", "is", "it", "no", "not", "of", "on", "or", "such", "that", "the",
	"their", "then", "there", "these", "they", "this", "to", "was", "will", "with",
}

// keywordFields are indexed as single exact terms. Listing them in the
// mapping lets match queries on these fields use the keyword analyzer.
var keywordFields = []string{
	document.FieldID, document.FieldIssueID, document.FieldIssueKey,
	document.FieldProjectID, document.FieldProjectKey, document.FieldAuthor,
	document.FieldCreated, document.FieldUpdated, document.FieldKey,
	document.FieldParentID, document.FieldType, document.FieldStatus,
	document.FieldPriority, document.FieldResolution, document.FieldAssignee,
	document.FieldReporter, document.FieldLabels, document.FieldDueDate,
	document.FieldResolutionDate, document.FieldLevel, document.FieldChangedFields,
	document.FieldNonEmptyIDs, document.FieldVisibleIDs,
}

// buildMapping returns the mapping shared by every index kind.
func buildMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()

	err := im.AddCustomAnalyzer(TextAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": TextTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			TextStopFilterName,
		},
	})
	if err != nil {
		return nil, err
	}
	im.DefaultAnalyzer = TextAnalyzerName

	for _, name := range keywordFields {
		fm := bleve.NewKeywordFieldMapping()
		im.DefaultMapping.AddFieldMappingsAt(name, fm)
	}
	return im, nil
}

// analyzers resolves the two analyzers used when converting documents.
type analyzers struct {
	text    analysis.Analyzer
	keyword analysis.Analyzer
}

func resolveAnalyzers(m mapping.IndexMapping) analyzers {
	return analyzers{
		text:    m.AnalyzerNamed(TextAnalyzerName),
		keyword: m.AnalyzerNamed(keyword.Name),
	}
}

var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Tokenize splits text on non-word characters, then splits identifiers
// written in camelCase or snake_case. The original identifier is kept as
// well so "NullPointerException" matches both whole and in parts.
func Tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		parts := splitIdentifier(word)
		if len(parts) > 1 {
			tokens = append(tokens, word)
		}
		tokens = append(tokens, parts...)
	}
	return tokens
}

func splitIdentifier(word string) []string {
	if strings.Contains(word, "_") {
		var out []string
		for _, part := range strings.Split(word, "_") {
			if part != "" {
				out = append(out, splitCamelCase(part)...)
			}
		}
		return out
	}
	return splitCamelCase(word)
}

// splitCamelCase splits "parseHTTPRequest" into parse, HTTP, Request.
func splitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevIsLower || nextIsLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

func textTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &textTokenizer{}, nil
}

type textTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *textTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lower := strings.ToLower(text)
	tokens := Tokenize(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	offset := 0
	for i, token := range tokens {
		start := strings.Index(lower[offset:], strings.ToLower(token))
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)
		if end > len(text) {
			end = len(text)
		}

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
		// A whole identifier is followed by its parts, which start at the
		// same offset.
		if i+1 < len(tokens) && strings.HasPrefix(strings.ToLower(token), strings.ToLower(tokens[i+1])) {
			offset = start
		} else {
			offset = end
		}
	}
	return result
}

func textStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	stop := make(map[string]struct{}, len(DefaultStopWords))
	for _, w := range DefaultStopWords {
		stop[w] = struct{}{}
	}
	return &stopFilter{stopWords: stop}, nil
}

type stopFilter struct {
	stopWords map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f *stopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[strings.ToLower(string(token.Term))]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
