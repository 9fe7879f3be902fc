package models

import "fmt"

const (
	ArtifactKeyPrefix          = "highlighted/"
	DefaultArtifactContentType = "application/pdf"
)

type Artifact struct {
	Content     []byte `json:"-"`
	ContentType string `json:"content_type"`
	FileName    string `json:"file_name"`
}

// ArtifactKey is the single cache key format shared by the worker and the download path.
func ArtifactKey(submissionID string) string {
	return ArtifactKeyPrefix + submissionID
}

func DefaultArtifactFileName(submissionID string) string {
	return fmt.Sprintf("submission_%s_highlighted.pdf", submissionID)
}
