package vectorstore

import (
	"fmt"
	"regexp"
)

// DeleteFilter is a structured predicate selecting vectors for deletion.
//
// Exactly one selector must be set: DocumentID removes every chunk of one
// source document, VectorIDs removes specific vectors. Adapters translate the
// predicate into the backend's native filter form; user-supplied values are
// never interpolated into an expression string, which closes off expression
// injection by construction.
type DeleteFilter struct {
	// DocumentID selects all vectors whose document_id metadata matches.
	DocumentID string

	// VectorIDs selects vectors by their exact IDs.
	VectorIDs []string
}

// filterValuePattern bounds values embedded in backend filters. Document and
// vector IDs are caller-generated identifiers, not free text.
var filterValuePattern = regexp.MustCompile(`^[A-Za-z0-9_\-.:]{1,512}$`)

// ByDocument returns a filter selecting every chunk of a source document.
func ByDocument(documentID string) DeleteFilter {
	return DeleteFilter{DocumentID: documentID}
}

// ByVectorIDs returns a filter selecting vectors by ID.
func ByVectorIDs(ids ...string) DeleteFilter {
	return DeleteFilter{VectorIDs: ids}
}

// Validate checks that the filter has exactly one selector and that every
// embedded value is a well-formed identifier.
func (f DeleteFilter) Validate() error {
	hasDoc := f.DocumentID != ""
	hasIDs := len(f.VectorIDs) > 0

	switch {
	case !hasDoc && !hasIDs:
		return fmt.Errorf("%w: no selector set", ErrInvalidFilter)
	case hasDoc && hasIDs:
		return fmt.Errorf("%w: document ID and vector IDs are mutually exclusive", ErrInvalidFilter)
	}

	if hasDoc {
		if !filterValuePattern.MatchString(f.DocumentID) {
			return fmt.Errorf("%w: document ID %q contains characters outside [A-Za-z0-9_\\-.:]", ErrInvalidFilter, f.DocumentID)
		}
		return nil
	}

	for _, id := range f.VectorIDs {
		if !filterValuePattern.MatchString(id) {
			return fmt.Errorf("%w: vector ID %q contains characters outside [A-Za-z0-9_\\-.:]", ErrInvalidFilter, id)
		}
	}
	return nil
}
