package model

import "time"

// DocumentPatch is a partial update. A nil field leaves the document value
// untouched; a non-nil field replaces it entirely. ID and BlobURL are owned by
// the library and cannot be patched.
type DocumentPatch struct {
	Title             *string                    `json:"title,omitempty"`
	Authors           *[]string                  `json:"authors,omitempty"`
	Year              *string                    `json:"year,omitempty"` // "" clears the year
	Abstract          *string                    `json:"abstract,omitempty"`
	Content           *[]string                  `json:"content,omitempty"`
	Tags              *[]string                  `json:"tags,omitempty"`
	Concepts          *[]Concept                 `json:"concepts,omitempty"`
	Relationships     *[]Relationship            `json:"relationships,omitempty"`
	DifficultyMarkers *[]SegmentDifficultyMarker `json:"difficulty_markers,omitempty"`
	FileName          *string                    `json:"fileName,omitempty"`
	FileType          *string                    `json:"fileType,omitempty"`
	FileSize          *int64                     `json:"fileSize,omitempty"`
	UploadDate        *time.Time                 `json:"uploadDate,omitempty"`
	LastReadDate      *time.Time                 `json:"lastReadDate,omitempty"`
	Favorite          *bool                      `json:"favorite,omitempty"`
	ReadStatus        *ReadStatus                `json:"readStatus,omitempty"`
	Selected          *bool                      `json:"selected,omitempty"`
}

// IsEmpty reports whether applying p would change nothing.
func (p DocumentPatch) IsEmpty() bool {
	return p.Title == nil && p.Authors == nil && p.Year == nil && p.Abstract == nil &&
		p.Content == nil && p.Tags == nil && p.Concepts == nil && p.Relationships == nil &&
		p.DifficultyMarkers == nil && p.FileName == nil && p.FileType == nil &&
		p.FileSize == nil && p.UploadDate == nil && p.LastReadDate == nil &&
		p.Favorite == nil && p.ReadStatus == nil && p.Selected == nil
}

// Apply returns a copy of doc with every set field of p replaced.
func (p DocumentPatch) Apply(doc Document) Document {
	out := doc.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Authors != nil {
		out.Authors = cloneStrings(*p.Authors)
	}
	if p.Year != nil {
		if *p.Year == "" {
			out.Year = nil
		} else {
			out.Year = cloneString(p.Year)
		}
	}
	if p.Abstract != nil {
		out.Abstract = *p.Abstract
	}
	if p.Content != nil {
		out.Content = cloneStrings(*p.Content)
	}
	if p.Tags != nil {
		out.Tags = cloneStrings(*p.Tags)
	}
	if p.Concepts != nil {
		out.Concepts = Document{Concepts: *p.Concepts}.Clone().Concepts
	}
	if p.Relationships != nil {
		out.Relationships = Document{Relationships: *p.Relationships}.Clone().Relationships
	}
	if p.DifficultyMarkers != nil {
		out.DifficultyMarkers = Document{DifficultyMarkers: *p.DifficultyMarkers}.Clone().DifficultyMarkers
	}
	if p.FileName != nil {
		out.FileName = *p.FileName
	}
	if p.FileType != nil {
		out.FileType = *p.FileType
	}
	if p.FileSize != nil {
		out.FileSize = *p.FileSize
	}
	if p.UploadDate != nil {
		out.UploadDate = *p.UploadDate
	}
	if p.LastReadDate != nil {
		out.LastReadDate = *p.LastReadDate
	}
	if p.Favorite != nil {
		out.Favorite = *p.Favorite
	}
	if p.ReadStatus != nil {
		out.ReadStatus = *p.ReadStatus
	}
	if p.Selected != nil {
		out.Selected = cloneBool(p.Selected)
	}
	return out
}
