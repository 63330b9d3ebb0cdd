package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ruteri/enclave-trust-core/cryptoutils"
	"github.com/ruteri/enclave-trust-core/enclaverpc"
	"github.com/ruteri/enclave-trust-core/interfaces"
	"github.com/ruteri/enclave-trust-core/verifier"
)

// PeerIDHeader carries the authenticated caller identity established by the
// session layer terminating in front of this server. It is trusted input:
// the transport must strip it from unauthenticated requests.
const PeerIDHeader = "X-Enclave-Peer-Id"

// Handler implements the RPC endpoints served on the remote and local
// listeners.
type Handler struct {
	dispatcher *enclaverpc.Dispatcher
	verifier   verifier.Verifier
	log        *slog.Logger
}

// NewHandler creates a request handler over the dispatcher and verifier.
func NewHandler(dispatcher *enclaverpc.Dispatcher, v verifier.Verifier, log *slog.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		verifier:   v,
		log:        log,
	}
}

// HandleRemoteCall serves POST /v1/enclave/{method} on the remote listener.
func (h *Handler) HandleRemoteCall(w http.ResponseWriter, r *http.Request) {
	method := chi.URLParam(r, "method")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var peerID *interfaces.PublicKey
	if raw := r.Header.Get(PeerIDHeader); raw != "" {
		pk, err := cryptoutils.NewPublicKeyFromHex(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "malformed peer identity")
			return
		}
		peerID = &pk
	}

	resp, err := h.dispatcher.DispatchRemote(r.Context(), method, body, peerID)
	if err != nil {
		h.writeDispatchError(w, method, err)
		return
	}
	h.writePayload(w, resp)
}

// HandleLocalCall serves POST /v1/enclave/{method} on the local listener.
func (h *Handler) HandleLocalCall(w http.ResponseWriter, r *http.Request) {
	method := chi.URLParam(r, "method")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	resp, err := h.dispatcher.DispatchLocal(r.Context(), method, body)
	if err != nil {
		h.writeDispatchError(w, method, err)
		return
	}
	h.writePayload(w, resp)
}

// HandleLatestHeight serves GET /v1/consensus/height.
func (h *Handler) HandleLatestHeight(w http.ResponseWriter, r *http.Request) {
	height, err := h.verifier.LatestHeight()
	if err != nil {
		h.writeVerifierError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]uint64{"height": height})
}

// HandleSync serves POST /v1/consensus/sync on the local listener.
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Height uint64 `json:"height"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed sync request")
		return
	}

	if err := h.verifier.Sync(r.Context(), req.Height); err != nil {
		h.writeVerifierError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) writePayload(w http.ResponseWriter, payload []byte) {
	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func (h *Handler) writeDispatchError(w http.ResponseWriter, method string, err error) {
	if errors.Is(err, enclaverpc.ErrMethodNotFound) {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	h.log.Debug("RPC call failed", slog.String("method", method), "err", err)
	h.writeVerifierError(w, err)
}

// writeVerifierError maps verifier errors onto the wire error shape; other
// errors become opaque internal failures.
func (h *Handler) writeVerifierError(w http.ResponseWriter, err error) {
	var verr *verifier.Error
	if errors.As(err, &verr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(verr.Wire())
		return
	}

	h.writeError(w, http.StatusInternalServerError, err.Error())
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
