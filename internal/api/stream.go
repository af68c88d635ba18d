package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/mini-farm/internal/farm"
)

const (
	maxStreamConns  = 4
	streamCatchUp   = 50
	streamHeartbeat = 15 * time.Second
	writeWait       = 5 * time.Second
)

// streamAuthorized accepts the relay key as a bearer token or, for browser
// websocket clients that cannot set headers, as ?token=.
func (s *Server) streamAuthorized(r *http.Request) bool {
	if tok := bearerToken(r); tok != "" {
		return tok == s.RelayKey
	}
	return r.URL.Query().Get("token") == s.RelayKey
}

// handleStream upgrades to a websocket and pushes every farm event as JSON.
// New clients first receive the most recent events as catch-up.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.RelayKey == "" {
		http.Error(w, "streaming disabled (no relay key)", http.StatusForbidden)
		return
	}
	if !s.streamAuthorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if n := s.streamConns.Add(1); n > maxStreamConns {
		s.streamConns.Add(-1)
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer s.streamConns.Add(-1)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	subID, ch := s.Farm.Subscribe()
	defer s.Farm.Unsubscribe(subID)

	for _, e := range s.Farm.Events(streamCatchUp) {
		if err := writeEvent(conn, e); err != nil {
			return
		}
	}
	slog.Info("stream client connected", "sub_id", subID)

	// Reader: the stream is one-way, but reading surfaces the client's close.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(conn, e); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ctx.Done():
			slog.Info("stream client disconnected", "sub_id", subID)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, e farm.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(e)
}
