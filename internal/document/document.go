// Package document turns issues, comments and change groups into flat,
// ordered index documents.
//
// Factories are pure: no I/O and the same entity snapshot always yields
// the same document. A nil document means the entity has nothing worth
// indexing and callers skip it.
package document

// IndexPolicy controls how the engine indexes a field.
type IndexPolicy int

const (
	// NotIndexed fields are only retrievable, never searchable.
	NotIndexed IndexPolicy = iota
	// Analyzed fields are tokenized by the text analyzer.
	Analyzed
	// NotAnalyzed fields are indexed as a single exact term.
	NotAnalyzed
)

func (p IndexPolicy) String() string {
	switch p {
	case Analyzed:
		return "analyzed"
	case NotAnalyzed:
		return "not_analyzed"
	default:
		return "not_indexed"
	}
}

// Field is a single named value of a document.
type Field struct {
	Name  string
	Value string
	Store bool
	Index IndexPolicy
}

// Document is the indexed representation of one entity.
// Fields keep insertion order and may repeat a name for multi-valued fields.
type Document struct {
	// ID is the primary key of the document within its index.
	ID     string
	Fields []Field

	// Dropped names the extractors whose contribution was discarded.
	Dropped []string
}

// Values returns every value stored under name, in insertion order.
func (d *Document) Values(name string) []string {
	var out []string
	for _, f := range d.Fields {
		if f.Name == name {
			out = append(out, f.Value)
		}
	}
	return out
}

// Value returns the first value under name, or "" when absent.
func (d *Document) Value(name string) string {
	for _, f := range d.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// Has reports whether the document carries a field called name.
func (d *Document) Has(name string) bool {
	for _, f := range d.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}
