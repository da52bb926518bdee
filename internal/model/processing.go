package model

// ProcessingResult is what the external processing service returns for an
// uploaded file.
type ProcessingResult struct {
	ID                string                    `json:"id"`
	Title             string                    `json:"title"`
	Concepts          []Concept                 `json:"concepts"`
	Relationships     []Relationship            `json:"relationships"`
	DifficultyMarkers []SegmentDifficultyMarker `json:"difficulty_markers,omitempty"`
}

// SourceFile carries the original upload. Data is kept in memory because the
// handle registry needs the bytes to mint a reference.
type SourceFile struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

// IsPDF reports whether the file is a PDF by content type or magic bytes.
func (f SourceFile) IsPDF() bool {
	if f.ContentType == DefaultFileType {
		return true
	}
	return len(f.Data) >= 5 && string(f.Data[:5]) == "%PDF-"
}
