package api

import (
	"net/http"

	"github.com/revittco/electrumlink/internal/client"
	"github.com/revittco/electrumlink/internal/electrum"
)

type statusHandler struct {
	client Controller
	cache  *electrum.Cache
}

type statusResponse struct {
	client.Status
	Cache *electrum.CacheStats `json:"result_cache,omitempty"`
}

func (h *statusHandler) snapshot() statusResponse {
	resp := statusResponse{Status: h.client.Status()}
	if h.cache != nil {
		st := h.cache.Stats()
		resp.Cache = &st
	}
	return resp
}

func (h *statusHandler) get(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot())
}

func (h *statusHandler) pause(w http.ResponseWriter, _ *http.Request) {
	h.client.SetActive(false)
	writeJSON(w, http.StatusOK, h.snapshot())
}

func (h *statusHandler) resume(w http.ResponseWriter, _ *http.Request) {
	h.client.SetActive(true)
	writeJSON(w, http.StatusOK, h.snapshot())
}
