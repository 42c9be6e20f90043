package host

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/guseggert/rpcconn/transport/ws"
	"github.com/julienschmidt/httprouter"
	"nhooyr.io/websocket"
)

func (h *Host) router() http.Handler {
	router := httprouter.New()
	router.GET("/heartbeat", h.heartbeat)
	router.GET("/rpc", h.rpcWS)
	router.GET("/rpc/stream", h.rpcStreamWS)
	return router
}

func (h *Host) wsOptions() []ws.Option {
	return []ws.Option{
		ws.WithLogger(h.logger.Named("ws")),
		ws.WithConnOptions(h.connOpts...),
	}
}

// rpcWS serves a message-mode connection for as long as it stays open.
func (h *Host) rpcWS(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	c, err := ws.Accept(w, r, h.wsOptions()...)
	if err != nil {
		h.logger.Debugf("rpc WebSocket accept error: %s", err)
		return
	}
	h.logger.Debugf("accepted WebSocket conn from %s", r.RemoteAddr)
	h.serve(c)
	<-c.Closed()
}

// rpcStreamWS serves a framed stream carried in binary WebSocket messages.
func (h *Host) rpcStreamWS(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		h.logger.Debugf("rpc stream WebSocket accept error: %s", err)
		return
	}
	c := ws.NewStreamConn(context.Background(), wsConn, h.wsOptions()...)
	h.serve(c)
	<-c.Closed()
}

type HeartbeatResponse struct {
	Connections  int
	LastActivity string
}

// heartbeat reports the host's state and counts as activity for the idle check.
func (h *Host) heartbeat(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	h.mut.Lock()
	resp := HeartbeatResponse{
		Connections:  len(h.conns),
		LastActivity: h.lastActivity.UTC().Format(time.RFC3339),
	}
	h.lastActivity = time.Now()
	h.mut.Unlock()

	b, err := json.Marshal(resp)
	if err != nil {
		h.logger.Debugf("error marshaling heartbeat response: %s", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}
