// Package core holds the shared data model and collaborator interfaces of
// the tile server: ImageDescriptor, ViewSpec, RawTile, Session-adjacent
// types, and the abstract ImageSource/Registry/Step/Hook contracts that the
// rest of the module is built against.
package core

import (
	"context"
	"time"
)

// SourceFormat tags which concrete codec produced an ImageDescriptor.
type SourceFormat string

const (
	SourceTIFF    SourceFormat = "tiff"
	SourceJP2K    SourceFormat = "jp2k"
	SourceUnknown SourceFormat = "unknown"
)

// Rotation is one of the four IIIF-supported right-angle rotations.
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// Flip describes a mirroring applied before or instead of rotation.
type Flip int

const (
	FlipNone Flip = iota
	FlipHorizontal
	FlipVertical
)

// Colourspace selects the output colour conversion.
type Colourspace int

const (
	ColourNative Colourspace = iota
	ColourGreyscale
)

// ImageDescriptor is the immutable-once-admitted record the metadata cache
// stores per spec §3. CacheKey combines the resolved path and the
// effective max sample size so restricted and unrestricted views never
// collide (spec §4.3, Glossary "Cache key").
type ImageDescriptor struct {
	CacheKey string

	ResolvedPath     string // filesystem path actually opened
	OriginalFilename string // as seen by the client
	Format           SourceFormat

	Width  int // full-resolution logical width
	Height int // full-resolution logical height

	TileWidth  int
	TileHeight int

	// LevelWidths/LevelHeights are monotonically non-increasing:
	// LevelWidths[0] >= LevelWidths[1] >= ... >= LevelWidths[L-1], index 0
	// the full-resolution (finest) pyramid level and L-1 the coarsest.
	LevelWidths  []int
	LevelHeights []int

	Channels int // 1 or 3 for encodable output
	BPC      int // bits per channel on input; 8 or 16

	LastModified time.Time // UTC

	XMP        string // opaque embedded XMP payload
	ICCProfile []byte // opaque embedded ICC profile, optional

	MaxSampleSize int // the effective max_sample_size this descriptor was opened with
}

// NumLevels returns L, the number of pyramid levels.
func (d *ImageDescriptor) NumLevels() int { return len(d.LevelWidths) }

// ImageSource is the abstract capability set every concrete pyramidal
// reader (TIFF, JPEG2000, ...) must implement. Spec §9 Design Note: "a
// tagged variant is preferred over open-ended plugin loading."
type ImageSource interface {
	// Initialise prepares the reader for Open/decode calls.
	Initialise() error

	// OpenImage opens path at the given maxSampleSize constraint (0 =
	// unrestricted) and returns a freshly populated descriptor. The
	// descriptor's CacheKey is left for the caller to assign.
	OpenImage(ctx context.Context, path string, maxSampleSize int) (*ImageDescriptor, error)

	// LoadImageInfo re-reads width/height/timestamp-sensitive metadata for
	// an already-open descriptor in place (used on timestamp mismatch).
	LoadImageInfo(ctx context.Context, d *ImageDescriptor) error

	// GetMetadata returns an opaque embedded metadata value by key (e.g.
	// "xmp", "icc"); ok is false when absent.
	GetMetadata(d *ImageDescriptor, key string) (value string, ok bool)

	// GetTimestamp returns the on-disk last-modified time for path,
	// independent of any cached descriptor.
	GetTimestamp(path string) (time.Time, error)

	// DecodeRegion decodes a rectangular region of the given pyramid level
	// (0 = full resolution, increasing toward coarser levels) and returns
	// raw, interleaved pixel data.
	DecodeRegion(ctx context.Context, d *ImageDescriptor, level, x, y, w, h int) (*RawTile, error)
}

// Registry maps SourceFormat to an ImageSource implementation, mirroring
// the Decoder/Encoder registry pattern this module is built from.
type Registry interface {
	SourceFor(format SourceFormat) (ImageSource, bool)
	RegisterSource(format SourceFormat, s ImageSource)
}

// RawTile is a rectangular pixel buffer produced by an ImageSource and
// consumed by the render pipeline and encoders.
type RawTile struct {
	Width    int
	Height   int
	Channels int
	BPC      int

	Pixels []byte // interleaved, row-major

	// CompressionType/Quality describe the tile as originally stored, for
	// the tile-fast-path's "untouched aside from quality conversion" case.
	CompressionType string
	Quality         int
}

// Bytes returns the number of pixel bytes backing the tile.
func (t *RawTile) Bytes() int { return t.Width * t.Height * t.Channels * (t.BPC / 8) }

// ViewSpec is the per-request record of spec §3. Fractional region
// coordinates are in [0,1] of the full image; output size is in pixels.
type ViewSpec struct {
	ViewLeft, ViewTop, ViewWidth, ViewHeight float64

	RequestedWidth, RequestedHeight int

	Rotation    Rotation
	Flip        Flip
	Colourspace Colourspace
	Bitonal     bool

	MaxSampleSize  int // 0 = unrestricted
	MaintainAspect bool
	MaxSize        int // hard output cap, 0 = unlimited

	Format string // "jpg" or "png"
}

// Logger is a minimal structured logging interface, matched by hooks.SlogLogger.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// MetricsCollector receives performance observations from the pipeline.
type MetricsCollector interface {
	RecordProcessingTime(stepName string, d interface{ Seconds() float64 })
	RecordThroughput(bytes int64)
	RecordMemory(bytes int64)
	RecordError(stepName string, category string)
}

// Step is the render pipeline's fundamental building block. Each Step
// transforms a *RawTile and must be safe for concurrent use across
// goroutines (a single Step value may back many concurrent requests).
type Step interface {
	Name() string
	Execute(ctx context.Context, spec *ViewSpec, tile *RawTile) (*RawTile, error)
}

// ConditionalStep is an optional Step extension: a step implements it when
// whether it has any work to do for this request can be decided up front
// from the ViewSpec and the tile in hand (e.g. no rotation/flip requested,
// or the tile is already the target size). The Pipeline consults it before
// running the step so hooks and timings aren't recorded for a transform
// this particular request doesn't need.
type ConditionalStep interface {
	Applicable(spec *ViewSpec, tile *RawTile) bool
}

// Hook is an optional observer invoked around pipeline steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string, tile *RawTile)
	AfterStep(ctx context.Context, stepName string, tile *RawTile, d time.Duration, err error)
}
