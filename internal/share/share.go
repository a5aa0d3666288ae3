// Package share produces the participant-facing download artifacts for a
// finished render: the public video URL and its QR code sidecar.
package share

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const qrSize = 512

// VideoURL joins the public base URL with an output file name served under
// /files.
func VideoURL(base, name string) string {
	return strings.TrimSuffix(base, "/") + "/files/" + name
}

// WriteQR renders url as a PNG QR code at path. Medium error correction
// scans reliably from a kiosk screen photographed at an angle.
func WriteQR(url, path string) error {
	if err := qrcode.WriteFile(url, qrcode.Medium, qrSize, path); err != nil {
		return fmt.Errorf("qr encode: %w", err)
	}
	return nil
}
