package session

import (
	"encoding/base64"
	"fmt"

	"rsc.io/qr"
)

// ArtifactEncoder turns the raw pairing payload raised by an adapter into
// the artifact handed to observers.
type ArtifactEncoder func(raw string) (string, error)

const pngDataURLPrefix = "data:image/png;base64,"

// QRDataURL renders raw as a PNG QR code and returns it as a data URL that
// browsers can drop straight into an <img> tag.
func QRDataURL(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty payload", ErrArtifactGeneration)
	}
	code, err := qr.Encode(raw, qr.M)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArtifactGeneration, err)
	}
	return pngDataURLPrefix + base64.StdEncoding.EncodeToString(code.PNG()), nil
}
