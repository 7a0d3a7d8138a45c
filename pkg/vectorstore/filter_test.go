package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteFilter_Validate(t *testing.T) {
	tests := []struct {
		name    string
		filter  DeleteFilter
		wantErr bool
	}{
		{name: "by document", filter: ByDocument("doc-123"), wantErr: false},
		{name: "by vector ids", filter: ByVectorIDs("doc-123_chunk_0", "doc-123_chunk_1"), wantErr: false},
		{name: "empty filter", filter: DeleteFilter{}, wantErr: true},
		{
			name:    "both selectors set",
			filter:  DeleteFilter{DocumentID: "doc-1", VectorIDs: []string{"doc-1_chunk_0"}},
			wantErr: true,
		},
		{name: "empty vector id list", filter: DeleteFilter{VectorIDs: []string{}}, wantErr: true},
		{name: "blank vector id", filter: ByVectorIDs(""), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidFilter)
				return
			}
			require.NoError(t, err)
		})
	}
}

// Filter values are identifiers, not expression fragments. Anything that
// could read as filter syntax in a backend query language is rejected.
func TestDeleteFilter_RejectsExpressionSyntax(t *testing.T) {
	hostile := []string{
		`doc" or 1==1`,
		`doc' OR 'a'='a`,
		"doc;drop collection",
		"doc id",
		"doc(id)",
		"doc\n_chunk_0",
	}
	for _, id := range hostile {
		assert.ErrorIs(t, ByDocument(id).Validate(), ErrInvalidFilter, "document id %q", id)
		assert.ErrorIs(t, ByVectorIDs(id).Validate(), ErrInvalidFilter, "vector id %q", id)
	}
}

func TestDeleteFilter_AcceptsTypicalIdentifiers(t *testing.T) {
	ok := []string{
		"doc-123",
		"a1b2c3d4-e5f6-7890-abcd-ef1234567890",
		"report.2024.pdf",
		"ns:doc:42",
		"doc_123_chunk_7",
	}
	for _, id := range ok {
		assert.NoError(t, ByDocument(id).Validate(), "document id %q", id)
	}
}
