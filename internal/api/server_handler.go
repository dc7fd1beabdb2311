package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/revittco/electrumlink/internal/config"
	"github.com/revittco/electrumlink/internal/endpoint"
	"github.com/revittco/electrumlink/internal/store"
)

type serverHandler struct {
	svc    *config.Service
	client Controller
}

type replaceServersRequest struct {
	Servers []endpoint.Endpoint `json:"servers"`
}

func (h *serverHandler) list(w http.ResponseWriter, r *http.Request) {
	servers, err := h.svc.Servers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list servers")
		return
	}
	if servers == nil {
		servers = []store.Server{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": servers})
}

// replace persists a new server list and hot-swaps it into the client.
func (h *serverHandler) replace(w http.ResponseWriter, r *http.Request) {
	var req replaceServersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	rows, err := h.svc.ReplaceServers(r.Context(), req.Servers)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			writeErrorDetail(w, http.StatusBadRequest, "invalid server list", verr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to save servers")
		return
	}

	changed, err := h.client.ReplaceEndpoints(config.EnabledEndpoints(rows))
	if err != nil {
		slog.Error("replace endpoints", "error", err)
		writeErrorDetail(w, http.StatusInternalServerError, "servers saved but not applied", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rows, "changed": changed})
}
