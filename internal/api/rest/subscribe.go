package rest

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// changesHandler streams reconciliation ops to the client as
// server-sent events. Delivery is at-most-once: after a disconnect the
// client must re-list and resubscribe, nothing is replayed.
func (s *Server) changesHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	tenantID, ok := s.callerTenant(w, r, callerID)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	activeOnly := r.URL.Query().Get("active_only") == "true"
	sub, release, err := s.engine.Subscribe(r.Context(), callerID, tenantID, activeOnly)
	if err != nil {
		WriteTaxonomyError(w, err)
		return
	}
	defer release()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Info("change stream opened",
		zap.String("principal_id", callerID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.Bool("active_only", activeOnly),
	)

	for {
		select {
		case <-r.Context().Done():
			return
		case op, open := <-sub.Ops():
			if !open {
				return
			}
			payload, err := json.Marshal(op)
			if err != nil {
				s.logger.Error("marshal reconciliation op", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", op.Kind, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
