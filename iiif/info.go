package iiif

import (
	"strings"

	"github.com/NationalGalleryOfArt/iipsrv-go/core"
)

const (
	contextURI  = "http://iiif.io/api/image/2/context.json"
	protocolURI = "http://iiif.io/api/image"
	profileURI  = "http://iiif.io/api/image/2/level1.json"
)

// Size is one entry of the info.json "sizes" array.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Tiles is the info.json "tiles" array's single entry.
type Tiles struct {
	Width        int   `json:"width"`
	Height       int   `json:"height"`
	ScaleFactors []int `json:"scaleFactors"`
}

// ProfileCapabilities is the second element of the info.json "profile"
// array: the format/quality/feature support lists this server implements.
type ProfileCapabilities struct {
	Formats   []string `json:"formats"`
	Qualities []string `json:"qualities"`
	Supports  []string `json:"supports"`
}

// Info is the JSON-serializable IIIF Image API 2 info.json document.
// Profile mixes the compliance-level URI string with the capabilities
// object, matching the two-element "profile" array IIIF level1 documents
// use.
type Info struct {
	Context  string        `json:"@context"`
	ID       string        `json:"@id"`
	Protocol string        `json:"protocol"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	Sizes    []Size        `json:"sizes"`
	Tiles    []Tiles       `json:"tiles"`
	Profile  []interface{} `json:"profile"`
}

var supportedFeatures = []string{
	"regionByPct", "regionSquare", "sizeByForcedWh", "sizeByWh",
	"sizeAboveFull", "rotationBy90s", "mirroring",
}

// BuildInfo constructs the info.json document for d, resolving @id from
// baseURL/headerOverride per spec §11's X-IIIF-ID precedence (header wins
// over BASE_URL), and filtering the sizes array by maxSize (0 = unlimited).
func BuildInfo(id string, d *core.ImageDescriptor, baseURL, headerOverride string, maxSize int, pngSupported bool) Info {
	canonicalID := headerOverride
	if canonicalID == "" {
		canonicalID = strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(id, "/")
	}

	formats := []string{"jpg"}
	if pngSupported {
		formats = append(formats, "png")
	}

	return Info{
		Context:  contextURI,
		ID:       canonicalID,
		Protocol: protocolURI,
		Width:    d.Width,
		Height:   d.Height,
		Sizes:    buildSizes(d, maxSize),
		Tiles: []Tiles{{
			Width:        d.TileWidth,
			Height:       d.TileHeight,
			ScaleFactors: scaleFactors(d.NumLevels()),
		}},
		Profile: []interface{}{
			profileURI,
			ProfileCapabilities{
				Formats:   formats,
				Qualities: []string{"native", "color", "gray"},
				Supports:  supportedFeatures,
			},
		},
	}
}

// buildSizes always includes the coarsest pyramid level (index L-1) first,
// then every level strictly between it and the full-resolution level
// (index 0), smallest first, filtered by maxSize (strictly below the cap,
// matching the original reader's "w < max && h < max" test) — the
// full-resolution level itself is covered by "full" and isn't repeated
// here, except in a single-level pyramid, where the coarsest level listed
// is the full-resolution level.
func buildSizes(d *core.ImageDescriptor, maxSize int) []Size {
	n := d.NumLevels()
	if n == 0 {
		return nil
	}
	sizes := make([]Size, 0, n)
	sizes = append(sizes, Size{Width: d.LevelWidths[n-1], Height: d.LevelHeights[n-1]})
	for i := n - 2; i >= 1; i-- {
		w, h := d.LevelWidths[i], d.LevelHeights[i]
		if maxSize > 0 && !(w < maxSize && h < maxSize) {
			continue
		}
		sizes = append(sizes, Size{Width: w, Height: h})
	}
	return sizes
}

// scaleFactors returns [1, 2, 4, ..., 2^(L-1)] for an L-level pyramid.
func scaleFactors(levels int) []int {
	out := make([]int, levels)
	f := 1
	for i := 0; i < levels; i++ {
		out[i] = f
		f *= 2
	}
	return out
}

// BareIdentifierRedirect returns the info.json location for a bare
// identifier request (spec §4.6: "a bare identifier... must produce 303
// See Other to {identifier}/info.json").
func BareIdentifierRedirect(id string) string {
	return strings.TrimSuffix(id, "/") + "/info.json"
}
