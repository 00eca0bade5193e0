package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrFatal marks an extractor failure that must not be isolated, for
// example a broken invariant of the host process. Extractors wrap it.
var ErrFatal = errors.New("fatal extractor failure")

// runExtractor runs ex against a private builder and converts panics to
// errors. A panic carrying an ErrFatal error keeps it in the chain, so the
// caller fails the whole build instead of isolating the extractor.
func runExtractor(ctx context.Context, ex FieldExtractor, e any) (staged *Builder, names []string, err error) {
	staged = newBuilder()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		staged, names = nil, nil
		if perr, ok := r.(error); ok && errors.Is(perr, ErrFatal) {
			err = fmt.Errorf("extractor panicked: %w", perr)
			return
		}
		err = fmt.Errorf("extractor panicked: %v", r)
	}()

	names, err = ex.Extract(ctx, e, staged)
	return staged, names, err
}

// assemble builds a document from identity fields plus the output of every
// extractor. It returns nil when no extractor contributed a field.
func assemble(ctx context.Context, typ EntityType, id string, e any, identity func(*Builder), extractors []FieldExtractor) (*Document, error) {
	doc := &Document{ID: id}
	b := newBuilder()
	identity(b)

	contributed := 0
	for _, ex := range extractors {
		staged, names, err := runExtractor(ctx, ex, e)
		if err != nil {
			if errors.Is(err, ErrFatal) {
				return nil, fmt.Errorf("field extractor %s failed for %s %s: %w", ex.Name(), typ, id, err)
			}
			slog.Warn("field_extractor_failed",
				slog.String("extractor", ex.Name()),
				slog.String("entity_type", string(typ)),
				slog.String("id", id),
				slog.String("error", err.Error()))
			doc.Dropped = append(doc.Dropped, ex.Name())
			continue
		}
		if staged.Len() == 0 {
			continue
		}

		contributed += staged.Len()
		b.merge(staged)

		if vc, ok := ex.(VisibilityChecker); ok && !vc.Visible(e) {
			continue
		}
		if len(names) == 0 {
			names = staged.fieldNames()
		}
		b.markVisible(names...)
	}

	if contributed == 0 {
		return nil, nil
	}
	doc.Fields = b.finish()
	return doc, nil
}
