package whatsapp

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.mau.fi/whatsmeow"
)

// MediaKind picks the WhatsApp message type a payload is sent as.
type MediaKind int

const (
	MediaDocument MediaKind = iota
	MediaImage
	MediaVideo
	MediaAudio
)

func (k MediaKind) String() string {
	switch k {
	case MediaImage:
		return "image"
	case MediaVideo:
		return "video"
	case MediaAudio:
		return "audio"
	default:
		return "document"
	}
}

func (k MediaKind) mediaType() whatsmeow.MediaType {
	switch k {
	case MediaImage:
		return whatsmeow.MediaImage
	case MediaVideo:
		return whatsmeow.MediaVideo
	case MediaAudio:
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

const fallbackMIME = "application/octet-stream"

// Classify resolves the MIME type of data and the kind it is sent as. A
// declared type wins unless it is empty or the generic fallback, in which
// case the content is sniffed.
func Classify(data []byte, declared string) (MediaKind, string) {
	mime := strings.TrimSpace(strings.ToLower(declared))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if mime == "" || mime == fallbackMIME {
		mime = fallbackMIME
		if len(data) > 0 {
			mime = mimetype.Detect(data).String()
			if i := strings.IndexByte(mime, ';'); i >= 0 {
				mime = mime[:i]
			}
		}
	}

	switch {
	case strings.HasPrefix(mime, "image/") && mime != "image/svg+xml":
		return MediaImage, mime
	case strings.HasPrefix(mime, "video/"):
		return MediaVideo, mime
	case strings.HasPrefix(mime, "audio/"):
		return MediaAudio, mime
	default:
		return MediaDocument, mime
	}
}
