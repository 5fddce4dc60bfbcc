// Command client is a hand-driven decision peer for trying the bridge: it
// accepts the bridge's decision connection, prints one line per snapshot
// and sends an ai_action for every action name typed on stdin.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/wfunc/tetbridge/logger"
	"github.com/wfunc/tetbridge/protocol"
)

type peer struct {
	mu    sync.Mutex
	conn  *websocket.Conn
	every int64
}

func (p *peer) send(msgType string, data any) error {
	payload, err := protocol.Encode(msgType, data)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return websocket.ErrCloseSent
	}
	return p.conn.WriteMessage(websocket.TextMessage, payload)
}

func (p *peer) serve(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warnf("Upgrade failed: %v", err)
		return
	}
	p.mu.Lock()
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn = c
	p.mu.Unlock()
	logger.Log.Infof("Bridge connected from %s", c.RemoteAddr())

	defer func() {
		p.mu.Lock()
		if p.conn == c {
			p.conn = nil
		}
		p.mu.Unlock()
		_ = c.Close()
		logger.Log.Info("Bridge disconnected")
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(message)
		if err != nil {
			logger.Log.Warnf("Received invalid frame: %v", err)
			continue
		}
		switch msg.Type {
		case protocol.MsgTypePing:
			if err := p.send(protocol.MsgTypePong, nil); err != nil {
				logger.Log.Warnf("Pong failed: %v", err)
			}
		case protocol.MsgTypeGameState:
			var snap protocol.FrameSnapshot
			if err := json.Unmarshal(msg.Data, &snap); err != nil {
				logger.Log.Warnf("Bad game_state: %v", err)
				continue
			}
			if p.every > 0 && snap.Frame%p.every == 0 {
				logger.Log.Infof("frame=%d %s", snap.Frame, describe(snap))
			}
		default:
			logger.Log.Infof("<- %s", msg.Type)
		}
	}
}

func describe(snap protocol.FrameSnapshot) string {
	piece, hold := "-", "-"
	if snap.CurrentPiece != nil {
		piece = string(snap.CurrentPiece.Type)
	}
	if snap.HoldPiece != nil {
		hold = string(*snap.HoldPiece)
	}
	var next strings.Builder
	for _, p := range snap.NextPieces {
		next.WriteString(string(p))
	}
	filled := 0
	for _, row := range snap.Board {
		for _, cell := range row {
			if cell.Occupied {
				filled++
			}
		}
	}
	return fmt.Sprintf("piece=%s hold=%s next=%s filled=%d", piece, hold, next.String(), filled)
}

func main() {
	var addr string
	p := &peer{}
	flag.StringVar(&addr, "addr", ":8000", "listen address the bridge dials (ai.url)")
	flag.Int64Var(&p.every, "every", 60, "print every Nth snapshot; 0 disables")
	flag.Parse()

	logger.Init()
	defer logger.Sync()

	mux := http.NewServeMux()
	mux.HandleFunc("/", p.serve)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Log.Fatalf("listen: %v", err)
		}
	}()

	logger.Log.Infof("Decision console on %s. Type an action (left, right, rotate_cw, rotate_ccw, soft_drop, hard_drop, hold, wait) and press Enter.", addr)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		a := protocol.ParseActionType(text)
		if !a.Valid() {
			logger.Log.Warnf("Unknown action %q", text)
			continue
		}
		if err := p.send(protocol.MsgTypeAIAction, map[string]string{"actionType": string(a)}); err != nil {
			logger.Log.Warnf("Send failed: %v", err)
			continue
		}
		logger.Log.Infof("-> SENT: %s", a)
	}
}
