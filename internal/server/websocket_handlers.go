package server

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// ProgressHandler handles WebSocket connections streaming run progress
// events. Authentication already happened in WebSocketAuthRequired, which
// stored the client name in locals.
func (s *Server) ProgressHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		name, _ := conn.Locals("client").(string)

		client, err := s.hub.Register(conn)
		if err != nil {
			log.Printf("WebSocket: rejected subscriber %q: %v", name, err)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		go client.WritePump()
		// ReadPump blocks until the peer goes away and unregisters the client.
		client.ReadPump()
	})
}
