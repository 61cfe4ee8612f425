package utils

import (
	"bytes"
)

const (
	formatTIFF    = "tiff"
	formatJP2K    = "jp2k"
	formatUnknown = "unknown"
)

// DetectFormat sniffs the first bytes of data and returns the pyramid
// source format: TIFF (both byte orders) or JPEG2000 (raw codestream,
// JP2 box format, or the older .jpx signature).
func DetectFormat(data []byte) string {
	if len(data) < 4 {
		return formatUnknown
	}
	// TIFF: "II*\0" (little-endian) or "MM\0*" (big-endian).
	if (data[0] == 'I' && data[1] == 'I' && data[2] == 0x2A && data[3] == 0x00) ||
		(data[0] == 'M' && data[1] == 'M' && data[2] == 0x00 && data[3] == 0x2A) {
		return formatTIFF
	}
	// JP2 box format signature.
	if len(data) >= 12 &&
		data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x00 && data[3] == 0x0C &&
		data[4] == 'j' && data[5] == 'P' && data[6] == ' ' && data[7] == ' ' {
		return formatJP2K
	}
	// Raw J2K codestream: FF 4F FF 51.
	if data[0] == 0xFF && data[1] == 0x4F && data[2] == 0xFF && data[3] == 0x51 {
		return formatJP2K
	}
	return formatUnknown
}

// ScaleDimensions computes output (w, h) preserving aspect ratio.
// Pass 0 for either axis to calculate it from the other.
func ScaleDimensions(srcW, srcH, targetW, targetH int) (int, int) {
	if targetW == 0 && targetH == 0 {
		return srcW, srcH
	}
	if targetW == 0 {
		ratio := float64(targetH) / float64(srcH)
		return int(float64(srcW) * ratio), targetH
	}
	if targetH == 0 {
		ratio := float64(targetW) / float64(srcW)
		return targetW, int(float64(srcH) * ratio)
	}
	return targetW, targetH
}

// PeekReader reads up to n bytes without consuming them (returns a new reader
// containing the peeked bytes followed by the rest of orig).
func PeekReader(orig []byte, n int) (peek []byte, rest []byte) {
	if n > len(orig) {
		n = len(orig)
	}
	return orig[:n], orig
}

// CloneBytes returns a copy of b (safe for use after the source buffer is released).
func CloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// BytesReader creates an io.Reader backed by b without allocation.
func BytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}
