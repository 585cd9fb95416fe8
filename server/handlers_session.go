package server

import (
	"context"

	"github.com/nedpals/nfc-tagscan/nfc"
	"github.com/nedpals/nfc-tagscan/protocol"
)

// SessionHandler exposes a SessionController to UI clients: startSession and
// resetSession requests drive it, and every transition is broadcast as a
// state message.
type SessionHandler struct {
	ctrl SessionController
}

// NewSessionHandler creates a handler for ctrl.
func NewSessionHandler(ctrl SessionController) *SessionHandler {
	return &SessionHandler{ctrl: ctrl}
}

// Register implements ServerHandler.
func (h *SessionHandler) Register(s HandlerServer) {
	s.Handle(protocol.TypeStartSession, h.handleStartSession)
	s.Handle(protocol.TypeResetSession, h.handleResetSession)

	s.StartLifecycle(func(ctx context.Context) {
		unsubscribe := h.ctrl.Observe(func(snap nfc.Snapshot) {
			s.Broadcast(StateMessage(snap))
		})

		// Error handlers cannot be removed, so this one goes quiet once the
		// server stops.
		h.ctrl.AddErrorHandler(func() {
			if ctx.Err() != nil {
				return
			}
			s.Broadcast(SessionErrorMessage(h.ctrl.Snapshot()))
		})

		go func() {
			<-ctx.Done()
			unsubscribe()
		}()
	})
}

func (h *SessionHandler) handleStartSession(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	var payload protocol.StartSessionPayload
	if err := req.DecodePayload(&payload); err != nil {
		client.SendError(req.ID, protocol.ErrCodeInvalidPayload, err.Error())
		return err
	}

	h.ctrl.Start(payload.Message)
	return client.SendResponse(req, nil)
}

func (h *SessionHandler) handleResetSession(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	h.ctrl.Reset()
	return client.SendResponse(req, nil)
}
