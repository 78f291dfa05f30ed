package httpapi

import (
	"io"
	"net/http"

	"github.com/nearloop/backend/infrastructure/errors"
)

const maxMessageBytes = 65535

// handleSendMessage reads a bounded ciphertext body and dispatches to
// messaging.Engine.Send (spec.md §6: "octet-stream (<= 65,535 bytes) +
// SendMessageToAccountParams"). Routing params travel as headers since
// the body itself is the raw ciphertext, not JSON.
func (h *handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	receiverID := r.Header.Get("X-Receiver-Account-Id")
	senderKeyID := r.Header.Get("X-Sender-Public-Key-Id")
	receiverKeyID := r.Header.Get("X-Receiver-Public-Key-Id")
	if receiverID == "" {
		writeError(w, http.StatusBadRequest, "X-Receiver-Account-Id is required")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxMessageBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "message exceeds 65535 bytes")
		return
	}

	msg, envelope, err := h.Messages.Send(r.Context(), callerAccountID(r), receiverID, senderKeyID, receiverKeyID, body)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("X-Message-Uuid", msg.MessageUUID)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(envelope)
}

// handleGetPendingMessages streams the receiver's pending queue as the
// framed octet protocol messaging.Engine.WritePending already implements.
func (h *handler) handleGetPendingMessages(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/octet-stream")
	if err := h.Messages.WritePending(r.Context(), w, callerAccountID(r)); err != nil {
		if se := errors.GetServiceError(err); se != nil {
			writeError(w, se.HTTPStatus, se.Message)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type pendingMessageDeleteList struct {
	AckedAsSender   []string `json:"acked_as_sender"`
	AckedAsReceiver []string `json:"acked_as_receiver"`
}

// handleDeletePendingMessages applies the receiver's (and, for its own
// sent messages, the sender's) acks (spec.md §6: "Receiver acks").
func (h *handler) handleDeletePendingMessages(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[pendingMessageDeleteList](w, r)
	if !ok {
		return
	}

	for _, uuid := range req.AckedAsReceiver {
		if err := h.Messages.AckReceiver(r.Context(), uuid); err != nil {
			writeEngineError(w, err)
			return
		}
	}
	for _, uuid := range req.AckedAsSender {
		if err := h.Messages.AckSender(r.Context(), uuid); err != nil {
			writeEngineError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
