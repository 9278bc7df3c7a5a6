package security

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ImageFormat is a recognized image container.
type ImageFormat string

// Allowed image formats.
const (
	FormatPNG  ImageFormat = "png"
	FormatJPEG ImageFormat = "jpeg"
	FormatGIF  ImageFormat = "gif"
	FormatBMP  ImageFormat = "bmp"
	FormatWEBP ImageFormat = "webp"
)

// OCRFunc extracts text from image bytes. OCR is best-effort: a nil func or
// an OCR error yields a warning, never a failure.
type OCRFunc func(data []byte) (string, error)

// ImageScan is the image sub-gate result.
type ImageScan struct {
	Format        ImageFormat `json:"format"`
	SHA256        string      `json:"sha256"`
	SizeBytes     int64       `json:"size_bytes"`
	ExtractedText string      `json:"extracted_text,omitempty"`
	// TextRisk is the Gate 2 detection over extracted text; it propagates
	// into the caller's Gate 3 decision.
	TextRisk  DetectResult `json:"text_risk"`
	Warnings  []string     `json:"warnings,omitempty"`
	ExifBytes int          `json:"exif_bytes,omitempty"`
}

// ScanImage validates an image payload: allow-listed format, size cap,
// content hash, best-effort OCR with Gate 2 re-scan, and EXIF density check.
func (p *Pipeline) ScanImage(data []byte, ocr OCRFunc) (*ImageScan, error) {
	if int64(len(data)) > p.cfg.ImageMaxBytes {
		return nil, fmt.Errorf("image size %d exceeds limit %d", len(data), p.cfg.ImageMaxBytes)
	}

	format, ok := detectImageFormat(data)
	if !ok {
		return nil, fmt.Errorf("unsupported image format")
	}

	sum := sha256.Sum256(data)
	scan := &ImageScan{
		Format:    format,
		SHA256:    hex.EncodeToString(sum[:]),
		SizeBytes: int64(len(data)),
	}

	if format == FormatJPEG {
		scan.ExifBytes = exifSegmentSize(data)
		// Oversized metadata is a common smuggling channel.
		if scan.ExifBytes > 16*1024 {
			scan.Warnings = append(scan.Warnings, fmt.Sprintf("suspicious EXIF density: %d bytes", scan.ExifBytes))
		}
	}

	if ocr == nil {
		scan.Warnings = append(scan.Warnings, "no OCR available, text extraction skipped")
		return scan, nil
	}

	text, err := ocr(data)
	if err != nil {
		scan.Warnings = append(scan.Warnings, "OCR failed: "+err.Error())
		return scan, nil
	}

	sanitized := Sanitize(text)
	scan.ExtractedText = sanitized.Text
	scan.TextRisk = Detect(sanitized.Text, sanitized.RemovedRunes)
	if scan.TextRisk.RiskScore > 0 {
		scan.Warnings = append(scan.Warnings, fmt.Sprintf("extracted text scored %.0f risk", scan.TextRisk.RiskScore))
	}
	return scan, nil
}

// Magic-byte prefixes for the format allow-list.
var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	gifMagic  = []byte("GIF8")
	bmpMagic  = []byte("BM")
	riffMagic = []byte("RIFF")
	webpTag   = []byte("WEBP")
)

func detectImageFormat(data []byte) (ImageFormat, bool) {
	switch {
	case bytes.HasPrefix(data, pngMagic):
		return FormatPNG, true
	case bytes.HasPrefix(data, jpegMagic):
		return FormatJPEG, true
	case bytes.HasPrefix(data, gifMagic):
		return FormatGIF, true
	case bytes.HasPrefix(data, bmpMagic):
		return FormatBMP, true
	case bytes.HasPrefix(data, riffMagic) && len(data) >= 12 && bytes.Equal(data[8:12], webpTag):
		return FormatWEBP, true
	default:
		return "", false
	}
}

// exifSegmentSize returns the total bytes of APP1 (EXIF) segments in a JPEG.
func exifSegmentSize(data []byte) int {
	total := 0
	i := 2 // skip SOI
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			break
		}
		marker := data[i+1]
		if marker == 0xDA { // start of scan, no more headers
			break
		}
		size := int(data[i+2])<<8 | int(data[i+3])
		if marker == 0xE1 { // APP1
			total += size
		}
		i += 2 + size
	}
	return total
}
