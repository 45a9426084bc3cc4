// Package models defines core data structures for records, documents, tasks, and queries.
package models

import (
	"fmt"
	"strings"

	ragerr "github.com/hyperjump/pagerag/pkg/errors"
)

// Modality tags what an embedding record was derived from.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
)

// Valid reports whether m is a known modality.
func (m Modality) Valid() bool {
	return m == ModalityText || m == ModalityImage
}

// Role selects the asymmetric embedding space for a piece of content.
type Role string

const (
	RoleQuery    Role = "query"
	RoleDocument Role = "document"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleQuery || r == RoleDocument
}

// Record is the metadata stored alongside one vector. It is a tagged variant:
// text records carry Content, image records carry Page and PreviewPath.
// Records are immutable once inserted into an index.
type Record struct {
	OwnerID     string   `json:"owner_id"`
	DocumentID  string   `json:"document_id"`
	Modality    Modality `json:"type"`
	Source      string   `json:"source"`
	Page        int      `json:"page,omitempty"`
	Content     string   `json:"content,omitempty"`
	PreviewPath string   `json:"preview_path,omitempty"`
}

// PageID returns the owner id of the image record for page (1-indexed) of docID.
func PageID(docID string, page int) string {
	return fmt.Sprintf("%s_page_%d", docID, page)
}

// NewTextRecord builds and validates the text record of a document.
func NewTextRecord(docID, source, text string) (Record, error) {
	r := Record{
		OwnerID:    docID,
		DocumentID: docID,
		Modality:   ModalityText,
		Source:     source,
		Content:    text,
	}
	return r, r.Validate()
}

// NewImageRecord builds and validates the record for one rendered page.
func NewImageRecord(docID, source string, page int, previewPath string) (Record, error) {
	r := Record{
		OwnerID:     PageID(docID, page),
		DocumentID:  docID,
		Modality:    ModalityImage,
		Source:      source,
		Page:        page,
		PreviewPath: previewPath,
	}
	return r, r.Validate()
}

// Validate checks the variant invariants of r.
func (r Record) Validate() error {
	if r.OwnerID == "" || r.DocumentID == "" {
		return ragerr.New(ragerr.CodeVectorRecordInvalid, "record owner and document ids are required")
	}
	switch r.Modality {
	case ModalityText:
		if strings.TrimSpace(r.Content) == "" {
			return ragerr.New(ragerr.CodeVectorRecordInvalid, "text record requires content",
				ragerr.FieldDocumentID(r.DocumentID))
		}
		if r.Page != 0 || r.PreviewPath != "" {
			return ragerr.New(ragerr.CodeVectorRecordInvalid, "text record must not carry page or preview",
				ragerr.FieldDocumentID(r.DocumentID))
		}
	case ModalityImage:
		if r.Page < 1 {
			return ragerr.Errorf(ragerr.CodeVectorRecordInvalid, "image record page must be >= 1, got %d", r.Page)
		}
		if r.PreviewPath == "" {
			return ragerr.New(ragerr.CodeVectorRecordInvalid, "image record requires a preview path",
				ragerr.FieldDocumentID(r.DocumentID))
		}
		if r.Content != "" {
			return ragerr.New(ragerr.CodeVectorRecordInvalid, "image record must not carry content",
				ragerr.FieldDocumentID(r.DocumentID))
		}
	default:
		return ragerr.Errorf(ragerr.CodeVectorRecordInvalid, "unknown modality %q", r.Modality)
	}
	return nil
}

// Field returns the string form of a filterable field and whether the field exists.
func (r Record) Field(name string) (string, bool) {
	switch name {
	case FilterModality:
		return string(r.Modality), true
	case FilterOwnerID:
		return r.OwnerID, true
	case FilterDocumentID:
		return r.DocumentID, true
	case FilterSource:
		return r.Source, true
	case FilterPage:
		if r.Modality != ModalityImage {
			return "", false
		}
		return fmt.Sprintf("%d", r.Page), true
	default:
		return "", false
	}
}
