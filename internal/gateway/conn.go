package gateway

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"classchat/api/internal/auth"
	"classchat/api/internal/store"
)

// envelope is the wire frame in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// connection is one authenticated websocket. Writes are serialized because
// pushes arrive from other connections' goroutines.
type connection struct {
	id           string
	identity     auth.Identity
	conn         net.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
}

func (c *connection) ID() string {
	return c.id
}

func (c *connection) participant() store.Participant {
	return store.Participant{UserID: c.identity.UserID, Kind: c.identity.Kind}
}

// Push writes one event frame to the client.
func (c *connection) Push(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	frame, err := json.Marshal(envelope{Event: event, Data: raw})
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := wsutil.WriteServerMessage(c.conn, ws.OpText, frame); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}
