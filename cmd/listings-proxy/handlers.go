package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/londonmove/listings-proxy/pkg/config"
	"github.com/londonmove/listings-proxy/pkg/featured"
	"github.com/londonmove/listings-proxy/pkg/images"
	"github.com/londonmove/listings-proxy/pkg/kvstore"
	"github.com/londonmove/listings-proxy/pkg/listings"
	"github.com/londonmove/listings-proxy/pkg/upstream"
)

type app struct {
	cfg      config.Config
	store    kvstore.Store
	cache    *listings.Cache
	engine   *images.Engine
	featured *featured.Manager
	logger   zerolog.Logger
}

func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", a.readyHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/properties", a.listProperties)
	mux.HandleFunc("GET /api/properties/{id}", a.getProperty)
	mux.HandleFunc("GET /api/properties/{id}/image/{slot}/{variant}", a.getImageVariant)
	mux.HandleFunc("GET /api/featured", a.getFeatured)
	mux.HandleFunc("POST /api/featured/{id}", a.toggleFeatured)
	mux.HandleFunc("GET /api/backfill", a.backfillStatus)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// readyHandler probes the store with a read of a key that is allowed to be
// absent; only a transport-level failure reports unready.
func (a *app) readyHandler(w http.ResponseWriter, r *http.Request) {
	_, err := a.store.Get(r.Context(), "readiness-probe")
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (a *app) listProperties(w http.ResponseWriter, r *http.Request) {
	snapshot, err := a.cache.FetchAll(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	records := snapshot.Records
	if r.URL.Query().Get("featured") == "true" {
		featuredOnly := records[:0:0]
		for _, rec := range records {
			if rec.IsFeatured() {
				featuredOnly = append(featuredOnly, rec)
			}
		}
		records = featuredOnly
	}
	a.writeJSON(w, http.StatusOK, records)
}

func (a *app) getProperty(w http.ResponseWriter, r *http.Request) {
	record, err := a.cache.FetchOne(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, record)
}

// getImageVariant serves a derived rendition of one photo slot. The format
// query parameter defaults to auto, resolved against the request's Accept
// and User-Agent headers before the cache key is built.
func (a *app) getImageVariant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	slotIndex, err := strconv.Atoi(r.PathValue("slot"))
	if err != nil {
		http.Error(w, "slot must be a photo index", http.StatusBadRequest)
		return
	}
	slot, err := listings.PhotoSlot(slotIndex)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	variant, err := images.ParseVariant(r.PathValue("variant"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	requested := images.FormatAuto
	if f := r.URL.Query().Get("format"); f != "" {
		if requested, err = images.ParseFormat(f); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	format := images.Resolve(requested, r.Header.Get("Accept"), r.Header.Get("User-Agent"))

	src, err := a.imageSource(r, id, slot)
	if err != nil {
		a.writeError(w, err)
		return
	}

	start := time.Now()
	res, err := a.engine.ProcessAndCache(r.Context(), id, slotIndex, variant, format, src)
	if err != nil {
		a.writeError(w, err)
		return
	}
	images.ObserveProcessDuration(variant, time.Since(start))

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(images.TTLFor(variant).Seconds())))
	if res.Fallback {
		w.Header().Set("X-Image-Fallback", "true")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Data); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to write image response")
	}
}

// imageSource reads the raw slot blob, warming the cache through a full
// record fetch when the slot key has expired.
func (a *app) imageSource(r *http.Request, id string, slot listings.Slot) ([]byte, error) {
	ctx := r.Context()
	raw, err := a.store.Get(ctx, listings.ImageKey(id, slot))
	if errors.Is(err, kvstore.ErrNotFound) {
		record, err := a.cache.FetchOne(ctx, id)
		if err != nil {
			return nil, err
		}
		encoded, ok := record.Images[slot]
		if ok {
			return decodeImage(encoded)
		}
		// The snapshot never carried this slot; the media endpoint may
		// still have it.
		if _, err := a.cache.RefreshImages(ctx, id); err == nil {
			if raw, err := a.store.Get(ctx, listings.ImageKey(id, slot)); err == nil {
				return decodeImage(string(raw))
			}
		}
		return nil, fmt.Errorf("%w: %s has no %s", listings.ErrNotFound, id, slot)
	}
	if err != nil {
		return nil, err
	}
	return decodeImage(string(raw))
}

// decodeImage tolerates both raw and data-URI-prefixed base64.
func decodeImage(encoded string) ([]byte, error) {
	if i := strings.Index(encoded, ","); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decoding image slot: %w", err)
	}
	return data, nil
}

func (a *app) getFeatured(w http.ResponseWriter, r *http.Request) {
	ids, err := a.featured.GetIDs(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"featuredIds": ids})
}

func (a *app) toggleFeatured(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	res, err := a.featured.Toggle(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	body := map[string]any{
		"featuredIds": res.IDs,
		"added":       res.Added,
		"removed":     res.Removed,
	}
	if res.BackfillScheduled {
		body["autoBackfillScheduled"] = true
		body["shortfall"] = res.Shortfall
		body["executeAt"] = res.ExecuteAt
	}
	a.writeJSON(w, http.StatusOK, body)
}

func (a *app) backfillStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.featured.JobStatus(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	if !st.Exists {
		a.writeJSON(w, http.StatusOK, map[string]any{"pending": false})
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"pending":          true,
		"job":              st.Job,
		"timeRemainingSec": int(st.TimeRemaining.Seconds()),
		"isReady":          st.IsReady,
	})
}

func (a *app) authorized(r *http.Request) bool {
	if a.cfg.AdminToken == "" {
		return false
	}
	auth := r.Header.Get("Authorization")
	return strings.TrimPrefix(auth, "Bearer ") == a.cfg.AdminToken
}

// writeError maps the error taxonomy onto HTTP classes without leaking
// internal detail on unexpected failures.
func (a *app) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, listings.ErrNotFound):
		a.writeJSON(w, http.StatusNotFound, map[string]string{"error": "listing not found"})
	case errors.Is(err, featured.ErrCapacityExceeded):
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, upstream.ErrUpstreamUnavailable):
		a.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "listings source unavailable"})
	default:
		a.logger.Error().Err(err).Msg("Unhandled request error")
		a.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (a *app) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to encode response")
	}
}
