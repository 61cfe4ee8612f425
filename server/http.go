// Package server realizes the transport of spec §6 as a concrete
// net/http.Handler: the IIIF Image API routes, the bare-identifier 303
// redirect, and the legacy IIP CGI query dialect (FIF/CVT/JTL), all built
// on gorilla/mux per SPEC_FULL.md §4's routing choice.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/NationalGalleryOfArt/iipsrv-go/adapters/memcache"
	"github.com/NationalGalleryOfArt/iipsrv-go/config"
	"github.com/NationalGalleryOfArt/iipsrv-go/core"
	apperrors "github.com/NationalGalleryOfArt/iipsrv-go/errors"
	"github.com/NationalGalleryOfArt/iipsrv-go/fif"
	"github.com/NationalGalleryOfArt/iipsrv-go/iiif"
	"github.com/NationalGalleryOfArt/iipsrv-go/jpegenc"
	"github.com/NationalGalleryOfArt/iipsrv-go/render"
	"github.com/NationalGalleryOfArt/iipsrv-go/session"
)

// Version is the server identifier reported in the Server response header.
const Version = "0.1.0"

// Handler wires the FIF/IIIF/render components into an http.Handler.
type Handler struct {
	Cfg      config.Config
	FIF      *fif.Handler
	IIIF     *iiif.Handler
	Renderer *render.Renderer
	Registry core.Registry

	// Output is the optional external byte cache for fully-rendered
	// response bodies, keyed by identifier and view. A nil Output is a
	// permanent miss, so callers need not check MemcachedServers first.
	Output *memcache.Cache

	// Logger receives the per-request session.Session's accumulated log
	// lines and command-timer elapsed time once a response has been
	// written. A nil Logger silently disables this diagnostic trail.
	Logger core.Logger

	mux *mux.Router
}

// New builds the routed Handler. "png" is always accepted as an output
// format and advertised in info.json, since this module always links
// image/png.
func New(cfg config.Config, fifHandler *fif.Handler, iiifHandler *iiif.Handler, renderer *render.Renderer, registry core.Registry, logger core.Logger) *Handler {
	h := &Handler{
		Cfg:      cfg,
		FIF:      fifHandler,
		IIIF:     iiifHandler,
		Renderer: renderer,
		Registry: registry,
		Logger:   logger,
		Output:   memcache.New(cfg.MemcachedServers, cfg.MemcachedTimeout, cfg.DisablePrimaryMemcache),
	}

	r := mux.NewRouter()
	prefix := strings.Trim(cfg.IIIFPrefix, "/")
	r.HandleFunc("/"+prefix+"/{id:.+}/info.json", h.serveInfo).Methods(http.MethodGet)
	r.HandleFunc("/"+prefix+"/{id:.+}/{region}/{size}/{rotation}/{qf}", h.serveImage).Methods(http.MethodGet)
	r.HandleFunc("/"+prefix+"/{id:.+}", h.serveBare).Methods(http.MethodGet)
	r.HandleFunc("/fcgi-bin/iipsrv.fcgi", h.serveLegacy).Methods(http.MethodGet)
	h.mux = r

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) { h.mux.ServeHTTP(w, r) }

func (h *Handler) serveInfo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res, err := h.FIF.Resolve(r.Context(), id, 0, r.Header.Get("If-Modified-Since"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer res.Release()

	info := iiif.BuildInfo(id, res.Descriptor, h.Cfg.BaseURL, r.Header.Get("X-IIIF-ID"), h.Cfg.MaxCVT, true)

	contentType := "application/json"
	if strings.Contains(r.Header.Get("Accept"), "application/ld+json") {
		contentType = "application/ld+json"
	}

	h.applyCommonHeaders(w, res)
	w.Header().Set("Content-Type", contentType)
	_ = json.NewEncoder(w).Encode(info)
}

func (h *Handler) serveBare(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res, err := h.FIF.Resolve(r.Context(), id, 0, "")
	if err != nil {
		h.writeError(w, err)
		return
	}
	res.Release()

	w.Header().Set("Location", iiif.BareIdentifierRedirect(id))
	w.WriteHeader(http.StatusSeeOther)
}

func (h *Handler) serveImage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	sess := session.New()
	defer h.logSession(sess, "serveImage", id)

	res, err := h.FIF.Resolve(r.Context(), id, 0, r.Header.Get("If-Modified-Since"))
	if err != nil {
		sess.Log1("resolve failed: " + err.Error())
		h.writeError(w, err)
		return
	}
	defer res.Release()
	sess.Log1("resolved " + res.Descriptor.ResolvedPath)

	source, ok := h.Registry.SourceFor(res.Descriptor.Format)
	if !ok {
		h.writeError(w, apperrors.New(apperrors.CategoryFile, "server.serveImage", apperrors.ErrUnsupportedFormat))
		return
	}

	spec, _, err := h.IIIF.ParseRequest(
		[]string{vars["region"], vars["size"], vars["rotation"], vars["qf"]},
		res.Descriptor.Width, res.Descriptor.Height, true,
	)
	if err != nil {
		h.writeError(w, err)
		return
	}

	outputKey := outputCacheKey(id, vars["region"], vars["size"], vars["rotation"], vars["qf"], res.Descriptor.LastModified)
	if cached, hit := h.Output.Get(outputKey); hit {
		sess.Log1("output cache hit")
		h.applyCommonHeaders(w, res)
		w.Header().Set("Content-Type", contentTypeForFormat(spec.Format))
		_, _ = w.Write(cached)
		return
	}

	body, contentType, err := h.Renderer.Render(r.Context(), res.Descriptor, source, spec)
	if err != nil {
		sess.Log1("render failed: " + err.Error())
		h.writeError(w, err)
		return
	}
	sess.Log1("rendered")
	if res.Cacheable {
		h.Output.Set(outputKey, body, h.Cfg.MemcachedTimeout)
	}

	h.applyCommonHeaders(w, res)
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(body)
}

// logSession flushes a completed request's command-timer elapsed time and
// accumulated log lines to h.Logger, matching spec §3's Session as the
// request-scoped diagnostic sink. A nil Logger makes this a no-op.
func (h *Handler) logSession(sess *session.Session, op, id string) {
	if h.Logger == nil {
		return
	}
	h.Logger.Debug("request.complete",
		"op", op,
		"id", id,
		"elapsed_ms", sess.Elapsed().Milliseconds(),
		"log", strings.Join(sess.Log, "; "),
	)
}

// outputCacheKey addresses a rendered response by every input that affects
// its bytes, plus the descriptor's LastModified so a reprocessed source
// image invalidates its own cached renders without an explicit purge.
func outputCacheKey(id, region, size, rotation, qf string, lastModified time.Time) string {
	return strings.Join([]string{"iipsrv", id, region, size, rotation, qf, strconv.FormatInt(lastModified.Unix(), 10)}, "|")
}

func contentTypeForFormat(format string) string {
	if format == "png" {
		return "image/png"
	}
	return "image/jpeg"
}

// serveLegacy implements the IIP CGI dialect of the Glossary's "CVT"
// (region/scale convert) and "JTL" (raw tile) commands against a FIF=
// identifier, reusing the iiif package's token grammar for CVT so the
// region/size/rotation semantics stay identical between dialects.
func (h *Handler) serveLegacy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fifParam := q.Get("FIF")
	if fifParam == "" {
		h.writeError(w, apperrors.New(apperrors.CategoryRegion, "server.serveLegacy", apperrors.ErrTooFewTokens))
		return
	}

	sess := session.New()
	defer h.logSession(sess, "serveLegacy", fifParam)

	res, err := h.FIF.Resolve(r.Context(), fifParam, 0, r.Header.Get("If-Modified-Since"))
	if err != nil {
		sess.Log1("resolve failed: " + err.Error())
		h.writeError(w, err)
		return
	}
	defer res.Release()
	sess.Log1("resolved " + res.Descriptor.ResolvedPath)

	source, ok := h.Registry.SourceFor(res.Descriptor.Format)
	if !ok {
		h.writeError(w, apperrors.New(apperrors.CategoryFile, "server.serveLegacy", apperrors.ErrUnsupportedFormat))
		return
	}

	switch {
	case q.Get("JTL") != "":
		h.serveJTL(r.Context(), w, res, source, q.Get("JTL"))
	case q.Get("CVT") != "":
		h.serveCVT(r.Context(), w, res, source, q)
	default:
		h.writeError(w, apperrors.New(apperrors.CategoryRegion, "server.serveLegacy", apperrors.ErrTooFewTokens))
	}
}

func (h *Handler) serveJTL(ctx context.Context, w http.ResponseWriter, res *fif.Resolution, source core.ImageSource, jtl string) {
	parts := strings.SplitN(jtl, ",", 2)
	if len(parts) != 2 {
		h.writeError(w, apperrors.New(apperrors.CategoryParse, "server.serveJTL", apperrors.ErrInvalidSize))
		return
	}
	level, err1 := strconv.Atoi(parts[0])
	tileIndex, err2 := strconv.Atoi(parts[1])
	d := res.Descriptor
	if err1 != nil || err2 != nil || level < 0 || level >= d.NumLevels() {
		h.writeError(w, apperrors.New(apperrors.CategoryParse, "server.serveJTL", apperrors.ErrInvalidSize))
		return
	}

	tw, th := d.TileWidth, d.TileHeight
	lw, lh := d.LevelWidths[level], d.LevelHeights[level]
	tilesAcross := (lw + tw - 1) / tw
	x := (tileIndex % tilesAcross) * tw
	y := (tileIndex / tilesAcross) * th
	width, height := tw, th
	if x+width > lw {
		width = lw - x
	}
	if y+height > lh {
		height = lh - y
	}
	if width <= 0 || height <= 0 {
		h.writeError(w, apperrors.New(apperrors.CategoryRegion, "server.serveJTL", apperrors.ErrInvalidRegion))
		return
	}

	tile, err := source.DecodeRegion(ctx, d, level, x, y, width, height)
	if err != nil {
		h.writeError(w, apperrors.Wrap(apperrors.CategoryDecode, "server.serveJTL", err))
		return
	}

	var icc []byte
	if h.Cfg.RetainSourceICCProfile {
		icc = d.ICCProfile
	}
	body, err := jpegenc.Compress(tile, h.Cfg.JPEGQuality, icc, d.XMP)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.applyCommonHeaders(w, res)
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(body)
}

func (h *Handler) serveCVT(ctx context.Context, w http.ResponseWriter, res *fif.Resolution, source core.ImageSource, q map[string][]string) {
	get := func(key string) string {
		if v, ok := q[key]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}

	region := get("RGN")
	if region == "" {
		region = "full"
	}
	size := legacySizeToken(get("WID"), get("HEI"))
	rotation := get("ROT")
	if rotation == "" {
		rotation = "0"
	}
	quality := get("QLT")
	if quality == "" {
		quality = "native"
	}
	format := strings.ToLower(get("CVT"))
	if format == "jpeg" {
		format = "jpg"
	}

	spec, _, err := h.IIIF.ParseRequest(
		[]string{region, size, rotation, quality + "." + format},
		res.Descriptor.Width, res.Descriptor.Height, true,
	)
	if err != nil {
		h.writeError(w, err)
		return
	}

	body, contentType, err := h.Renderer.Render(ctx, res.Descriptor, source, spec)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.applyCommonHeaders(w, res)
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(body)
}

// legacySizeToken maps IIP's separate WID/HEI query parameters onto the
// IIIF size-token grammar iiif.ParseSize already implements.
func legacySizeToken(wid, hei string) string {
	switch {
	case wid != "" && hei != "":
		return wid + "," + hei
	case wid != "":
		return wid + ","
	case hei != "":
		return "," + hei
	default:
		return "full"
	}
}

func (h *Handler) applyCommonHeaders(w http.ResponseWriter, res *fif.Resolution) {
	w.Header().Set("Server", "iipsrv/"+Version)
	if h.Cfg.CORS != "" {
		w.Header().Set("Access-Control-Allow-Origin", h.Cfg.CORS)
	}
	cacheControl := h.Cfg.CacheControl
	if !res.Cacheable {
		cacheControl = "no-cache"
	}
	w.Header().Set("Cache-Control", cacheControl)
	w.Header().Set("Last-Modified", res.Descriptor.LastModified.UTC().Format(http.TimeFormat))
}

// writeError maps a ProcessingError to its HTTP status (spec §7) and, for
// embedded max-pixel redirects, sets Location and forces Cache-Control:
// no-cache per the §8 scenario 4 worked example.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)

	var pe *apperrors.ProcessingError
	if errors.As(err, &pe) && pe.RedirectLocation != "" {
		w.Header().Set("Location", pe.RedirectLocation)
		w.Header().Set("Cache-Control", "no-cache")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
