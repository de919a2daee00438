package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/minelink/minelink/internal/rpc"
)

// maxRequestBody caps inbound envelopes; every method's params fit in a
// fraction of this.
const maxRequestBody = 64 << 10

// HandleRPC bridges HTTP to the JSON-RPC dispatcher.
func HandleRPC(dispatcher *rpc.Dispatcher, log *logrus.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLog := log.WithField("request_id", middleware.GetReqID(r.Context()))

		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}

		resp := dispatcher.Dispatch(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			reqLog.WithError(err).Error("failed to write RPC response")
		}
	}
}
