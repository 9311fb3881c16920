package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/lrgstore/idstore/internal/app/domain/linkjob"
	"github.com/lrgstore/idstore/internal/app/domain/user"
	"github.com/lrgstore/idstore/internal/app/services/linker"
	"github.com/lrgstore/idstore/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The browser admin console and storefront pages connect cross-origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// streamLogs upgrades to a websocket and streams automation log lines for
// the order. Connecting queues a job for the order unless one is already
// queued or running; reconnecting clients join the active job's stream. The
// phase query parameter selects the link or phase2 flow.
func (h *handler) streamLogs(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	ctx := r.Context()

	isAdmin := middleware.UserRole(ctx) == user.RoleAdmin
	if _, err := h.Orders.Get(ctx, middleware.UserID(ctx), orderID, isAdmin); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	phase := linkjob.PhaseLink
	if r.URL.Query().Get("phase") == string(linkjob.PhasePhase2) {
		phase = linkjob.PhasePhase2
	}

	// Subscribe before queueing so no line is missed between the two.
	lines, cancel := h.Linker.Hub().Subscribe(orderID)
	defer cancel()

	if _, queued, err := h.Linker.Enqueue(ctx, orderID, phase); err != nil {
		writeError(w, statusFor(err), err)
		return
	} else if !queued {
		h.Log.WithField("order_id", orderID).Debug("joining active link job stream")
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
			if linker.IsTerminal(line) {
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}
}
