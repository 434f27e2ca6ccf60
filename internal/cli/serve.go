package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"devengine/internal/develop"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
)

// Server wraps the lifecycle hub's routes with the develop-controller
// endpoints the hub itself has no access to (§4.10's HTTP surface), and
// runs them behind one http.Server. Grounded on the teacher's
// internal/server.Server.Start: graceful shutdown on context cancellation,
// surfaced through http.Server.Shutdown with a bounded grace period.
type Server struct {
	addr   string
	router *mux.Router
	ctrl   *develop.Controller
	server *http.Server
}

func newServer(addr string, root *Root) *Server {
	router := root.hub.Routes()
	s := &Server{addr: addr, router: router, ctrl: root.ctrl}
	router.HandleFunc("/images/{id}/history", s.handleHistory).Methods("GET")
	return s
}

// Start blocks until ctx is cancelled, then shuts the server down with a
// five-second grace period.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{Addr: s.addr, Handler: s.router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	imgID := mux.Vars(r)["id"]
	st, ok := s.ctrl.State(imgID)
	if !ok {
		http.Error(w, "image not loaded", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		HistoryEnd int `json:"history_end"`
		Active     any `json:"active"`
	}{st.History.HistoryEnd(), st.History.Active()})
}

func newServeCmd(root *Root) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the lifecycle/history HTTP server (SSE, WebSocket, history snapshot)",
		RunE: func(cmd *cobra.Command, args []string) error {
			root.log.Info("devengine: serving", "addr", addr)
			return newServer(addr, root).Start(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
