package visualiser

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketHandler streams frames as binary msgpack-encoded FrameBundles.
// The query parameters voxels=0 and paths=0 drop those parts.
func (p *Publisher) WebSocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !p.running.Load() {
			http.Error(w, "publisher not running", http.StatusServiceUnavailable)
			return
		}
		opts := DefaultStreamOptions()
		q := r.URL.Query()
		if q.Get("voxels") == "0" {
			opts.IncludeVoxels = false
		}
		if q.Get("paths") == "0" {
			opts.IncludePaths = false
		}

		client, err := p.addClient("ws", opts)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer p.removeClient(client.id)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf("ws upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		readDone := make(chan struct{})
		go readPump(conn, readDone)
		p.writePump(conn, client, readDone)
	}
}

// readPump drains control frames so pongs and closes are processed.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logf("ws error: %v", err)
			}
			return
		}
	}
}

func (p *Publisher) writePump(conn *websocket.Conn, client *clientStream, readDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-readDone:
			return
		case <-p.stopCh:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "publisher stopped"))
			return
		case frame := <-client.frameCh:
			data, err := msgpack.Marshal(frame.Filter(client.opts))
			if err != nil {
				logf("msgpack encode frame %d: %v", frame.FrameID, err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
