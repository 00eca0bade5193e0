package index

import (
	bdoc "github.com/blevesearch/bleve/v2/document"
	bindex "github.com/blevesearch/bleve_index_api"

	"github.com/Aman-CERP/issueindex/internal/document"
)

// toBleve converts a flat document to bleve's low-level representation,
// honouring each field's store and index policy. Repeated names become
// array positions so multi-valued fields stay distinct.
func toBleve(doc *document.Document, an analyzers) *bdoc.Document {
	out := bdoc.NewDocument(doc.ID)
	positions := make(map[string]uint64, len(doc.Fields))

	for _, f := range doc.Fields {
		var opts bindex.FieldIndexingOptions
		if f.Store {
			opts |= bindex.StoreField
		}

		analyzer := an.keyword
		switch f.Index {
		case document.Analyzed:
			opts |= bindex.IndexField | bindex.IncludeTermVectors
			analyzer = an.text
		case document.NotAnalyzed:
			opts |= bindex.IndexField
		}
		if opts == 0 {
			continue
		}

		pos := positions[f.Name]
		positions[f.Name] = pos + 1

		out.AddField(bdoc.NewTextFieldCustom(f.Name, []uint64{pos}, []byte(f.Value), opts, analyzer))
	}
	return out
}
