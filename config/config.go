// Package config resolves the named options of spec §4.1 from the process
// environment into a read-once, immutable Config. All fields have safe
// defaults so callers can start with Default() and override only what they
// need; mutation after FromEnv/Default returns is the caller's mistake to
// make, not ours to prevent.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Interpolation selects the resampling kernel used by the region path.
type Interpolation int

const (
	InterpolationNearest Interpolation = 0
	InterpolationBilinear Interpolation = 1
)

// PNGFilterType mirrors libpng's filter-strategy enum closely enough for
// the PNG_FILTER_TYPE option.
type PNGFilterType string

const (
	PNGFilterNone PNGFilterType = "none"
	PNGFilterSub  PNGFilterType = "sub"
	PNGFilterUp   PNGFilterType = "up"
	PNGFilterAvg  PNGFilterType = "avg"
	PNGFilterPaeth PNGFilterType = "paeth"
)

// Config is the top-level, process-wide configuration struct.
type Config struct {
	Verbosity int    // VERBOSITY
	LogFile   string // LOGFILE

	MaxImageCacheSize         float64 // MAX_IMAGE_CACHE_SIZE (MB)
	MaxHeadersInMetadataCache int     // MAX_HEADERS_IN_METADATA_CACHE; 0 disables the descriptor cache

	FilenamePattern string // FILENAME_PATTERN

	JPEGQuality int // JPEG_QUALITY, clamped [1,100]
	MaxCVT      int // MAX_CVT, minimum 64
	MaxSampleSize int // MAX_SAMPLE_SIZE, >= 0
	MaxLayers   int // MAX_LAYERS

	FilesystemPrefix string // FILESYSTEM_PREFIX

	Watermark            string  // WATERMARK (path to watermark image, empty = disabled)
	WatermarkProbability float64 // WATERMARK_PROBABILITY, clamped [0,1]
	WatermarkOpacity     float64 // WATERMARK_OPACITY, clamped [0,1]

	MemcachedServers        string // comma-separated host:port list
	MemcachedTimeout        time.Duration
	DisablePrimaryMemcache  bool

	Interpolation Interpolation // INTERPOLATION

	CORS         string // CORS
	BaseURL      string // BASE_URL
	CacheControl string // CACHE_CONTROL

	AllowUpscaling      bool    // ALLOW_UPSCALING
	OversamplingFactor  float64 // OVERSAMPLING_FACTOR, clamped [1.0, 2.0]

	RetainSourceICCProfile bool // RETAIN_SOURCE_ICC_PROFILE

	IIIFPrefix string // IIIF_PREFIX

	PNGCompressionLevel int           // PNG_COMPRESSION_LEVEL, -1 = zlib default
	PNGFilterType       PNGFilterType // PNG_FILTER_TYPE

	// Embedded max-pixel policy.
	MaxPixelTag        string // XMP element name scanned for the policy, e.g. "nga:imgMaxPublicPixels"
	EnforceMaxPixels   bool   // when false, a P<=0 image is served instead of 403'd

	// Non-env, process-scoped knobs (still spec-resolved defaults).
	WorkerCount int
	JobTimeout  time.Duration
}

// Default returns a Config populated with the defaults spec §4.1 names.
func Default() Config {
	return Config{
		Verbosity:                 1,
		MaxImageCacheSize:         100.0,
		MaxHeadersInMetadataCache: 1000,
		FilenamePattern:           "_pyr_",
		JPEGQuality:               75,
		MaxCVT:                    1024,
		MaxSampleSize:             0,
		MaxLayers:                 0,
		FilesystemPrefix:          "",
		WatermarkProbability:      1.0,
		WatermarkOpacity:          0.5,
		MemcachedTimeout:          86400 * time.Second,
		Interpolation:             InterpolationBilinear,
		CacheControl:              "max-age=86400",
		OversamplingFactor:        1.0,
		IIIFPrefix:                "iiif",
		PNGCompressionLevel:       -1,
		PNGFilterType:             PNGFilterNone,
		MaxPixelTag:               "nga:imgMaxPublicPixels",
		EnforceMaxPixels:          true,
		WorkerCount:               0,
		JobTimeout:                30 * time.Second,
	}
}

// FromEnv resolves Config from the process environment, starting from
// Default() and overriding/clamping per spec §4.1.
func FromEnv() Config {
	c := Default()

	if v, ok := getenvInt("VERBOSITY"); ok {
		c.Verbosity = clampMin(v, 0)
	}
	if v, ok := os.LookupEnv("LOGFILE"); ok {
		c.LogFile = v
	}
	if v, ok := getenvFloat("MAX_IMAGE_CACHE_SIZE"); ok {
		c.MaxImageCacheSize = v
	}
	if v, ok := getenvInt("MAX_HEADERS_IN_METADATA_CACHE"); ok {
		c.MaxHeadersInMetadataCache = clampMin(v, 0)
	}
	if v, ok := os.LookupEnv("FILENAME_PATTERN"); ok {
		c.FilenamePattern = v
	}
	if v, ok := getenvInt("JPEG_QUALITY"); ok {
		c.JPEGQuality = clampRange(v, 1, 100)
	}
	if v, ok := getenvInt("MAX_CVT"); ok {
		c.MaxCVT = clampMin(v, 64)
	}
	if v, ok := getenvInt("MAX_SAMPLE_SIZE"); ok {
		c.MaxSampleSize = clampMin(v, 0)
	}
	if v, ok := getenvInt("MAX_LAYERS"); ok {
		c.MaxLayers = v
	}
	if v, ok := os.LookupEnv("FILESYSTEM_PREFIX"); ok {
		c.FilesystemPrefix = v
	}
	if v, ok := os.LookupEnv("WATERMARK"); ok {
		c.Watermark = v
	}
	if v, ok := getenvFloat("WATERMARK_PROBABILITY"); ok {
		c.WatermarkProbability = clampRangeF(v, 0, 1)
	}
	if v, ok := getenvFloat("WATERMARK_OPACITY"); ok {
		c.WatermarkOpacity = clampRangeF(v, 0, 1)
	}
	if v, ok := os.LookupEnv("MEMCACHED_SERVERS"); ok {
		c.MemcachedServers = v
	}
	if v, ok := getenvInt("MEMCACHED_TIMEOUT"); ok {
		c.MemcachedTimeout = time.Duration(v) * time.Second
	}
	if v, ok := getenvBool("DISABLE_PRIMARY_MEMCACHE"); ok {
		c.DisablePrimaryMemcache = v
	}
	if v, ok := getenvInt("INTERPOLATION"); ok {
		c.Interpolation = Interpolation(v)
	}
	if v, ok := os.LookupEnv("CORS"); ok {
		c.CORS = v
	}
	if v, ok := os.LookupEnv("BASE_URL"); ok {
		c.BaseURL = v
	}
	if v, ok := os.LookupEnv("CACHE_CONTROL"); ok {
		c.CacheControl = v
	}
	if v, ok := getenvBool("ALLOW_UPSCALING"); ok {
		c.AllowUpscaling = v
	}
	if v, ok := getenvFloat("OVERSAMPLING_FACTOR"); ok {
		c.OversamplingFactor = clampRangeF(v, 1.0, 2.0)
	}
	if v, ok := getenvBool("RETAIN_SOURCE_ICC_PROFILE"); ok {
		c.RetainSourceICCProfile = v
	}
	if v, ok := os.LookupEnv("IIIF_PREFIX"); ok {
		c.IIIFPrefix = v
	}
	if v, ok := getenvInt("PNG_COMPRESSION_LEVEL"); ok {
		c.PNGCompressionLevel = v
	}
	// Open question (spec §9): the source's string-equality compare for
	// PNG_COMPRESSION_LEVEL/PNG_FILTER_TYPE reads as inverted. Here
	// PNG_COMPRESSION_LEVEL is read as an integer above, and PNG_FILTER_TYPE
	// treats equal-to-known-name as "match", default otherwise.
	if v, ok := os.LookupEnv("PNG_FILTER_TYPE"); ok {
		switch PNGFilterType(strings.ToLower(v)) {
		case PNGFilterSub, PNGFilterUp, PNGFilterAvg, PNGFilterPaeth:
			c.PNGFilterType = PNGFilterType(strings.ToLower(v))
		default:
			c.PNGFilterType = PNGFilterNone
		}
	}

	return c
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return errors.New("config: JPEGQuality must be between 1 and 100")
	}
	if c.MaxCVT < 64 {
		return errors.New("config: MaxCVT must be at least 64")
	}
	if c.MaxHeadersInMetadataCache < 0 {
		return errors.New("config: MaxHeadersInMetadataCache must be >= 0")
	}
	if c.OversamplingFactor < 1.0 || c.OversamplingFactor > 2.0 {
		return errors.New("config: OversamplingFactor must be in [1.0, 2.0]")
	}
	return nil
}

func getenvInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

func getenvFloat(key string) (float64, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func getenvBool(key string) (bool, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	return strings.TrimSpace(v) == "1", true
}

func clampMin(v, min int) int {
	if v < min {
		return min
	}
	return v
}

func clampRange(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampRangeF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
