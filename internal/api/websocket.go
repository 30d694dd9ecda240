package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamTopics is everything a connected client sees.
var streamTopics = []events.Event{
	events.EventInstructionCreated,
	events.EventInstructionUpdated,
	events.EventInstructionCompleted,
	events.EventInstructionCancelled,
	events.EventInstructionFailed,
	events.EventChildOrderPlaced,
	events.EventChildOrderFilled,
}

type streamMessage struct {
	Event   events.Event `json:"event"`
	Payload any          `json:"payload"`
}

// websocket streams every lifecycle event to the client until it hangs up.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	msgs, unsub := s.Bus.Subscribe(256, streamTopics...)
	defer unsub()

	// Reader goroutine just watches for the client closing the socket.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			out := streamMessage{Event: msg.Event, Payload: msg.Payload}
			if err := conn.WriteJSON(out); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}
}
