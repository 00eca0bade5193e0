package document

// Builder accumulates the fields of one document. Extractors receive a
// private Builder so a failing extractor leaves no partial fields behind.
type Builder struct {
	fields  []Field
	visible []string
}

func newBuilder() *Builder {
	return &Builder{}
}

// AddText adds a stored, analyzed field. Empty values are skipped.
func (b *Builder) AddText(name, value string) {
	if value == "" {
		return
	}
	b.fields = append(b.fields, Field{Name: name, Value: value, Store: true, Index: Analyzed})
}

// AddKeyword adds a stored, not analyzed field. Empty values are skipped;
// pass NoValue explicitly for an absent relation.
func (b *Builder) AddKeyword(name, value string) {
	if value == "" {
		return
	}
	b.fields = append(b.fields, Field{Name: name, Value: value, Store: true, Index: NotAnalyzed})
}

// AddField adds f as given.
func (b *Builder) AddField(f Field) {
	b.fields = append(b.fields, f)
}

// Len returns the number of fields added so far.
func (b *Builder) Len() int {
	return len(b.fields)
}

func (b *Builder) merge(other *Builder) {
	b.fields = append(b.fields, other.fields...)
}

func (b *Builder) markVisible(names ...string) {
	b.visible = append(b.visible, names...)
}

// fieldNames returns the distinct field names in first-seen order.
func (b *Builder) fieldNames() []string {
	seen := make(map[string]bool, len(b.fields))
	var names []string
	for _, f := range b.fields {
		if !seen[f.Name] {
			seen[f.Name] = true
			names = append(names, f.Name)
		}
	}
	return names
}

// finish appends the meta fields and returns the field list.
func (b *Builder) finish() []Field {
	seen := make(map[string]bool)
	var nonEmpty []string
	for _, f := range b.fields {
		if f.Value == "" || f.Value == NoValue || seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		nonEmpty = append(nonEmpty, f.Name)
	}

	out := make([]Field, 0, len(b.fields)+len(nonEmpty)+len(b.visible))
	out = append(out, b.fields...)
	for _, name := range nonEmpty {
		out = append(out, Field{Name: FieldNonEmptyIDs, Value: name, Index: NotAnalyzed})
	}

	seen = make(map[string]bool)
	for _, name := range b.visible {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, Field{Name: FieldVisibleIDs, Value: name, Index: NotAnalyzed})
	}
	return out
}
