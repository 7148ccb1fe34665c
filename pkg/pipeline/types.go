package pipeline

import "strings"

// ContentKind is the coarse media classification that gates stage
// applicability.
type ContentKind string

const (
	ContentKindImage    ContentKind = "image"
	ContentKindVideo    ContentKind = "video"
	ContentKindAudio    ContentKind = "audio"
	ContentKindDocument ContentKind = "document"
	ContentKindOther    ContentKind = "other"
)

// SourceDescriptor locates the original media an asset's stages read from.
// Location is a storage key resolvable to a signed download URL.
type SourceDescriptor struct {
	Location string      `json:"location"`
	MIMEType string      `json:"mime_type"`
	Kind     ContentKind `json:"kind"`
}

var documentMIMETypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"text/plain": true,
	"text/csv":   true,
}

// KindFromMIME derives the content kind from a MIME type. Detection is by
// type family first, with a document allowlist for application/* types.
func KindFromMIME(mimeType string) ContentKind {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))

	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return ContentKindImage
	case strings.HasPrefix(mimeType, "video/"):
		return ContentKindVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return ContentKindAudio
	case documentMIMETypes[mimeType]:
		return ContentKindDocument
	default:
		return ContentKindOther
	}
}
