package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/revittco/electrumlink/internal/client"
	"github.com/revittco/electrumlink/internal/electrum"
	"github.com/revittco/electrumlink/internal/jsonrpc"
)

// callTimeout bounds a passthrough call beyond the client's own tiers.
const callTimeout = 5 * time.Minute

type callHandler struct {
	caller electrum.Caller
}

type callRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type callResponse struct {
	Result json.RawMessage   `json:"result,omitempty"`
	Error  *jsonrpc.RPCError `json:"error,omitempty"`
}

// call forwards one correlated request to the connected server.
func (h *callHandler) call(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, "method is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), callTimeout)
	defer cancel()
	resp, err := h.caller.Send(ctx, req.Method, req.Params...)
	switch {
	case errors.Is(err, client.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		writeErrorDetail(w, http.StatusGatewayTimeout, "server did not reply", err.Error())
		return
	case err != nil:
		writeErrorDetail(w, http.StatusServiceUnavailable, "call failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, callResponse{Result: resp.Result, Error: resp.Error})
}
