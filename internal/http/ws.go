package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/models"
)

var upgrader = websocket.Upgrader{}

// handleWS registers a push socket for a driver or rider. The current poll
// view is sent on connect so a client that reconnects does not miss state.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	role, id := models.Role(vars["role"]), vars["id"]
	if role != models.RoleDriver && role != models.RoleRider {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "role must be driver or rider"})
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the response.
		return
	}
	sess := s.ws.Add(role, id, conn)
	defer func() {
		s.ws.Remove(role, id, sess)
		_ = conn.Close()
	}()

	var initial any
	if role == models.RoleDriver {
		initial = s.engine.PollPendingOffer(id)
	} else {
		initial = s.engine.PollRideStatus(id)
	}
	if err := sess.Send(initial); err != nil {
		return
	}

	// Clients only listen; reading drains control frames and detects close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.logger.Debug("ws closed", "role", role, "id", id, "error", err)
			return
		}
	}
}
