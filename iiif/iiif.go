// Package iiif implements the IIIF Image API URL grammar of spec §4.6:
// region/size/rotation/quality/format parsing into a core.ViewSpec, plus
// info.json document construction.
package iiif

import (
	"math"
	"strconv"
	"strings"

	"github.com/NationalGalleryOfArt/iipsrv-go/core"
	apperrors "github.com/NationalGalleryOfArt/iipsrv-go/errors"
)

// Handler parses IIIF request grammar against a known full-resolution
// image size and produces a resolved core.ViewSpec.
type Handler struct {
	MaxCVT int // MAX_CVT: output pixel cap
}

// New constructs a Handler.
func New(maxCVT int) *Handler { return &Handler{MaxCVT: maxCVT} }

// ParseRequest parses the four "/"-separated tokens of a non-info request
// (region, size, rotation, qualityDotFormat) against an image of the given
// full-resolution dimensions. Exactly four tokens must be present.
func (h *Handler) ParseRequest(tokens []string, fullW, fullH int, pngSupported bool) (*core.ViewSpec, string, error) {
	if len(tokens) < 4 {
		return nil, "", apperrors.New(apperrors.CategoryRegion, "iiif.ParseRequest", apperrors.ErrTooFewTokens)
	}
	if len(tokens) > 4 {
		return nil, "", apperrors.New(apperrors.CategoryRegion, "iiif.ParseRequest", apperrors.ErrTooManyTokens)
	}

	left, top, width, height, err := ParseRegion(tokens[0], fullW, fullH)
	if err != nil {
		return nil, "", err
	}

	regionW := int(math.Round(width * float64(fullW)))
	regionH := int(math.Round(height * float64(fullH)))

	outW, outH, maintainAspect, err := ParseSize(tokens[1], regionW, regionH, h.MaxCVT)
	if err != nil {
		return nil, "", err
	}

	rotation, flip, err := ParseRotation(tokens[2])
	if err != nil {
		return nil, "", err
	}

	quality, format, err := SplitQualityFormat(tokens[3])
	if err != nil {
		return nil, "", err
	}
	colourspace, bitonal, err := ParseQuality(quality)
	if err != nil {
		return nil, "", err
	}
	outFormat, err := ParseFormat(format, pngSupported)
	if err != nil {
		return nil, "", err
	}

	spec := &core.ViewSpec{
		ViewLeft: left, ViewTop: top, ViewWidth: width, ViewHeight: height,
		RequestedWidth: outW, RequestedHeight: outH,
		Rotation: rotation, Flip: flip,
		Colourspace: colourspace, Bitonal: bitonal,
		MaintainAspect: maintainAspect,
		MaxSize:        h.MaxCVT,
		Format:         outFormat,
	}
	return spec, outFormat, nil
}

// ParseRegion parses the region token of spec §4.6 into fractional
// [0,1] coordinates of the full image.
func ParseRegion(token string, fullW, fullH int) (left, top, width, height float64, err error) {
	switch {
	case token == "full":
		return 0, 0, 1, 1, nil

	case token == "square":
		if fullH > fullW {
			frac := float64(fullW) / float64(fullH)
			return 0, (1 - frac) / 2, 1, frac, nil
		}
		frac := float64(fullH) / float64(fullW)
		return (1 - frac) / 2, 0, frac, 1, nil

	case strings.HasPrefix(token, "pct:"):
		parts, perr := splitFloats(strings.TrimPrefix(token, "pct:"), 4)
		if perr != nil {
			return 0, 0, 0, 0, regionParseError()
		}
		x1 := parts[0] / 100 * float64(fullW)
		y1 := parts[1] / 100 * float64(fullH)
		w := parts[2] / 100 * float64(fullW)
		h := parts[3] / 100 * float64(fullH)
		return clampRegion(x1, y1, x1+w, y1+h, fullW, fullH)

	default:
		parts, perr := splitFloats(token, 4)
		if perr != nil {
			return 0, 0, 0, 0, regionParseError()
		}
		x1, y1, w, h := parts[0], parts[1], parts[2], parts[3]
		return clampRegion(x1, y1, x1+w, y1+h, fullW, fullH)
	}
}

func regionParseError() error {
	return apperrors.New(apperrors.CategoryRegion, "iiif.ParseRegion", apperrors.ErrInvalidRegion)
}

// clampRegion validates an absolute pixel rectangle per spec §4.6 and §8
// scenario 5, returning its fractional representation. A rectangle that
// does not intersect the image at all, or that extends past the image on
// either edge, is rejected outright rather than silently clamped to what
// does fit: GET .../0,0,100,100/... against a 50x50 image must fail with
// 400, not quietly return the full image.
func clampRegion(x1, y1, x2, y2 float64, fullW, fullH int) (left, top, width, height float64, err error) {
	if x1 >= x2 || y1 >= y2 {
		return 0, 0, 0, 0, regionParseError()
	}
	if x1 >= float64(fullW) || y1 >= float64(fullH) || x2 <= 0 || y2 <= 0 {
		return 0, 0, 0, 0, regionParseError()
	}
	if x1 < 0 || y1 < 0 || x2 > float64(fullW) || y2 > float64(fullH) {
		return 0, 0, 0, 0, regionParseError()
	}
	return x1 / float64(fullW), y1 / float64(fullH), (x2 - x1) / float64(fullW), (y2 - y1) / float64(fullH), nil
}

// ParseSize parses the size token against the region's pixel dimensions,
// returning the resolved output size and the maintainAspect flag (true
// for "full", "!w,h", "w," and ",h"; false for "pct:n" and "w,h"), and
// clamping to maxCVT per spec §4.6.
func ParseSize(token string, regionW, regionH, maxCVT int) (w, h int, maintainAspect bool, err error) {
	switch {
	case token == "full":
		w, h, maintainAspect = regionW, regionH, true

	case strings.HasPrefix(token, "pct:"):
		n, perr := strconv.ParseFloat(strings.TrimPrefix(token, "pct:"), 64)
		if perr != nil {
			return 0, 0, false, sizeParseError()
		}
		w = int(math.Round(float64(regionW) * n / 100))
		h = int(math.Round(float64(regionH) * n / 100))
		maintainAspect = false

	case strings.HasPrefix(token, "!"):
		parts, perr := splitInts(strings.TrimPrefix(token, "!"), 2)
		if perr != nil {
			return 0, 0, false, sizeParseError()
		}
		boxW, boxH := parts[0], parts[1]
		if boxW <= 0 || boxH <= 0 {
			return 0, 0, false, sizeParseError()
		}
		scale := math.Min(float64(boxW)/float64(regionW), float64(boxH)/float64(regionH))
		w = int(math.Round(float64(regionW) * scale))
		h = int(math.Round(float64(regionH) * scale))
		maintainAspect = true

	case strings.HasSuffix(token, ","):
		n, perr := strconv.Atoi(strings.TrimSuffix(token, ","))
		if perr != nil {
			return 0, 0, false, sizeParseError()
		}
		w = n
		h = int(math.Round(float64(n) * float64(regionH) / float64(regionW)))
		maintainAspect = true

	case strings.HasPrefix(token, ","):
		n, perr := strconv.Atoi(strings.TrimPrefix(token, ","))
		if perr != nil {
			return 0, 0, false, sizeParseError()
		}
		h = n
		w = int(math.Round(float64(n) * float64(regionW) / float64(regionH)))
		maintainAspect = true

	default:
		parts, perr := splitInts(token, 2)
		if perr != nil {
			return 0, 0, false, sizeParseError()
		}
		w, h = parts[0], parts[1]
		maintainAspect = false
	}

	if w <= 0 || h <= 0 {
		return 0, 0, false, sizeParseError()
	}

	if maxCVT > 0 && (w > maxCVT || h > maxCVT) {
		if w >= h {
			newW := maxCVT
			newH := int(math.Round(float64(newW) * float64(h) / float64(w)))
			w, h = newW, newH
		} else {
			newH := maxCVT
			newW := int(math.Round(float64(newH) * float64(w) / float64(h)))
			w, h = newW, newH
		}
	}

	return w, h, maintainAspect, nil
}

func sizeParseError() error {
	return apperrors.New(apperrors.CategoryParse, "iiif.ParseSize", apperrors.ErrInvalidSize)
}

// ParseRotation parses the rotation token, returning the resolved
// rotation and flip. The "!180" combination collapses to a pure vertical
// flip per spec §4.6.
func ParseRotation(token string) (core.Rotation, core.Flip, error) {
	flipH := strings.HasPrefix(token, "!")
	token = strings.TrimPrefix(token, "!")

	n, err := strconv.Atoi(token)
	if err != nil {
		return 0, 0, rotationParseError()
	}
	n %= 360
	if n < 0 {
		n += 360
	}

	var rotation core.Rotation
	switch n {
	case 0:
		rotation = core.Rotate0
	case 90:
		rotation = core.Rotate90
	case 180:
		rotation = core.Rotate180
	case 270:
		rotation = core.Rotate270
	default:
		return 0, 0, rotationParseError()
	}

	if flipH && rotation == core.Rotate180 {
		return core.Rotate0, core.FlipVertical, nil
	}
	if flipH {
		return rotation, core.FlipHorizontal, nil
	}
	return rotation, core.FlipNone, nil
}

func rotationParseError() error {
	return apperrors.New(apperrors.CategoryParse, "iiif.ParseRotation", apperrors.ErrInvalidRotation)
}

// ParseQuality parses the quality token into a colourspace and bitonal flag.
func ParseQuality(token string) (core.Colourspace, bool, error) {
	switch token {
	case "native", "color", "default":
		return core.ColourNative, false, nil
	case "gray", "grey", "grayscale", "greyscale":
		return core.ColourGreyscale, false, nil
	case "bitonal":
		return core.ColourGreyscale, true, nil
	default:
		return 0, false, apperrors.New(apperrors.CategoryParse, "iiif.ParseQuality", apperrors.ErrInvalidQuality)
	}
}

// ParseFormat validates the requested output format.
func ParseFormat(token string, pngSupported bool) (string, error) {
	switch token {
	case "jpg", "jpeg", "":
		return "jpg", nil
	case "png":
		if !pngSupported {
			return "", apperrors.New(apperrors.CategoryParse, "iiif.ParseFormat", apperrors.ErrInvalidFormat)
		}
		return "png", nil
	default:
		return "", apperrors.New(apperrors.CategoryParse, "iiif.ParseFormat", apperrors.ErrInvalidFormat)
	}
}

// SplitQualityFormat splits "default.jpg" into ("default", "jpg").
func SplitQualityFormat(token string) (quality, format string, err error) {
	idx := strings.LastIndex(token, ".")
	if idx < 0 {
		return "", "", apperrors.New(apperrors.CategoryParse, "iiif.SplitQualityFormat", apperrors.ErrInvalidFormat)
	}
	return token[:idx], token[idx+1:], nil
}

func splitFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, apperrors.ErrInvalidRegion
	}
	out := make([]float64, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func splitInts(s string, n int) ([]int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, apperrors.ErrInvalidSize
	}
	out := make([]int, n)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
