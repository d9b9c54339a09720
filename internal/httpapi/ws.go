package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/eldercare-dispatch/internal/fabric"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// attach upgrades the request and parks a read loop whose only job is to
// notice the peer going away. Subscribers never send us anything meaningful;
// inbound frames are discarded.
func (s *Server) attach(w http.ResponseWriter, r *http.Request, scope fabric.Scope) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "scope", scope, "error", err)
		return
	}
	detach := s.hub.Subscribe(scope, conn)
	go func() {
		defer detach()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleWSCoordinators(w http.ResponseWriter, r *http.Request) {
	s.attach(w, r, fabric.Coordinators())
}

func (s *Server) handleWSDriver(w http.ResponseWriter, r *http.Request) {
	s.attach(w, r, fabric.Driver(mux.Vars(r)["id"]))
}

func (s *Server) handleWSFamily(w http.ResponseWriter, r *http.Request) {
	s.attach(w, r, fabric.Family(mux.Vars(r)["elder_id"]))
}

func (s *Server) handleWSAmbulance(w http.ResponseWriter, r *http.Request) {
	s.attach(w, r, fabric.AmbulanceWatch(mux.Vars(r)["id"]))
}
