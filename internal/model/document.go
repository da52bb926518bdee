// Package model contains the value types shared by the library, the handle
// registry, the processing integration and the HTTP surface.
package model

import (
	"fmt"
	"time"
)

// ReadStatus describes how far the reader got through a document. Declaring it
// as a named string type keeps arbitrary strings out of the field.
type ReadStatus string

const (
	StatusUnread  ReadStatus = "unread"
	StatusReading ReadStatus = "reading"
	StatusRead    ReadStatus = "read"
)

// Valid reports whether s is one of the known statuses.
func (s ReadStatus) Valid() bool {
	switch s {
	case StatusUnread, StatusReading, StatusRead:
		return true
	}
	return false
}

// Provenance defaults used when no original upload is available.
const (
	DefaultFileName = "unknown.pdf"
	DefaultFileType = "application/pdf"
	UntitledTitle   = "Untitled Document"
)

// Concept is an extracted term with an optional definition.
type Concept struct {
	Term       string  `json:"term"`
	Definition *string `json:"definition"`
}

// Relationship is a directed edge between two concept terms. Source and Target
// are not required to name concepts of the same document.
type Relationship struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Label  *string `json:"label,omitempty"`
}

// SegmentDifficultyMarker scores one text block of a page.
type SegmentDifficultyMarker struct {
	SegmentID        string   `json:"segment_id"`
	PageIndex        int      `json:"page_index"`
	BlockIndexOnPage int      `json:"block_index_on_page"`
	TextPreview      string   `json:"text_preview"`
	Score            float64  `json:"score"`
	Reasons          []string `json:"reasons"`
}

// SegmentID derives the marker identity from its page and block position,
// e.g. page 0 block 3 becomes "p0_b3".
func SegmentID(pageIndex, blockIndex int) string {
	return fmt.Sprintf("p%d_b%d", pageIndex, blockIndex)
}

// Document is a unit of reading material plus the knowledge extracted from it.
// Values handed out by the library are snapshots; use Clone before keeping one
// around if the slices will be modified.
type Document struct {
	ID                string                    `json:"id"`
	Title             string                    `json:"title"`
	Authors           []string                  `json:"authors"`
	Year              *string                   `json:"year"`
	Abstract          string                    `json:"abstract"`
	Content           []string                  `json:"content"`
	Tags              []string                  `json:"tags"`
	Concepts          []Concept                 `json:"concepts"`
	Relationships     []Relationship            `json:"relationships"`
	DifficultyMarkers []SegmentDifficultyMarker `json:"difficulty_markers"`
	FileName          string                    `json:"fileName"`
	FileType          string                    `json:"fileType"`
	FileSize          int64                     `json:"fileSize"`
	UploadDate        time.Time                 `json:"uploadDate"`
	LastReadDate      time.Time                 `json:"lastReadDate"`
	Favorite          bool                      `json:"favorite"`
	ReadStatus        ReadStatus                `json:"readStatus"`
	Selected          *bool                     `json:"selected,omitempty"`
	// BlobURL references a live binary handle. Only the library writes it.
	BlobURL string `json:"blobUrl,omitempty"`
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	out := d
	out.Authors = cloneStrings(d.Authors)
	out.Content = cloneStrings(d.Content)
	out.Tags = cloneStrings(d.Tags)
	out.Year = cloneString(d.Year)
	out.Selected = cloneBool(d.Selected)
	if d.Concepts != nil {
		out.Concepts = make([]Concept, len(d.Concepts))
		for i, c := range d.Concepts {
			out.Concepts[i] = Concept{Term: c.Term, Definition: cloneString(c.Definition)}
		}
	}
	if d.Relationships != nil {
		out.Relationships = make([]Relationship, len(d.Relationships))
		for i, r := range d.Relationships {
			out.Relationships[i] = Relationship{Source: r.Source, Target: r.Target, Label: cloneString(r.Label)}
		}
	}
	if d.DifficultyMarkers != nil {
		out.DifficultyMarkers = make([]SegmentDifficultyMarker, len(d.DifficultyMarkers))
		for i, m := range d.DifficultyMarkers {
			m.Reasons = cloneStrings(m.Reasons)
			out.DifficultyMarkers[i] = m
		}
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneBool(p *bool) *bool {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
