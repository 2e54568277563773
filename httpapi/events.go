package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazyhaar/webclip/envelope"
)

const (
	eventsWriteWait = 10 * time.Second
	eventsPongWait  = 60 * time.Second
	eventsPingEvery = (eventsPongWait * 9) / 10
	eventsBuffer    = 32
)

// handleEvents streams every runtime broadcast to the popup as JSON
// envelopes. Envelopes the popup sends are broadcast under Origin, so a
// popup can issue runtime commands and read the correlated replies on the
// same socket.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := make(chan envelope.Envelope, eventsBuffer)
	remove := s.bus.Listen(Origin, func(env envelope.Envelope) {
		select {
		case out <- env:
		case <-ctx.Done():
		default:
			s.logger.Warn("httpapi: event dropped, popup too slow", "name", env.Name)
		}
	})
	defer remove()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		// Closing unblocks the read loop when the write side fails first.
		defer conn.Close()
		defer cancel()
		ticker := time.NewTicker(eventsPingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case env := <-out:
				if err := conn.SetWriteDeadline(time.Now().Add(eventsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(env); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(eventsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	if err := conn.SetReadDeadline(time.Now().Add(eventsPongWait)); err != nil {
		cancel()
		<-writerDone
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	})

	s.logger.Debug("httpapi: popup connected", "remote", r.RemoteAddr)
	for {
		var env envelope.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			break
		}
		if !env.Name.Known() {
			s.logger.Warn("httpapi: unknown envelope from popup", "name", env.Name)
			continue
		}
		if err := s.bus.Broadcast(Origin, env); err != nil {
			s.logger.Warn("httpapi: broadcast from popup", "name", env.Name, "error", err)
			break
		}
	}
	cancel()
	<-writerDone
	s.logger.Debug("httpapi: popup disconnected", "remote", r.RemoteAddr)
}
