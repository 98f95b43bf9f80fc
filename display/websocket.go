package display

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	Fr "github.com/maroda/fmdrisk/risk"
)

// Frame is what the websocket sends: progress plus the headline
// of the latest finished study.
type Frame struct {
	Model        string   `json:"model"`
	Event        Fr.Event `json:"event"`
	Batch        string   `json:"batch,omitempty"`
	ExpectedCost float64  `json:"total_expected_cost"`
	Ready        bool     `json:"ready"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamInterval is how often the websocket checks for news.
var StreamInterval = 100 * time.Millisecond

// Frame snapshots the view for streaming.
func (v *View) Frame() Frame {
	v.MU.Lock()
	defer v.MU.Unlock()

	f := Frame{Model: v.Model, Event: v.progress}
	if v.report != nil && v.report.Summary != nil {
		f.Batch = v.report.ID
		f.ExpectedCost = v.report.Summary.TotalExpectedCost
		f.Ready = true
	}
	return f
}

// WebsocketHandler sends a Frame on connect and again whenever it changes.
func (v *View) WebsocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Reading is only for noticing the client leaving
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	last := v.Frame()
	if err := conn.WriteJSON(last); err != nil {
		return
	}

	ticker := time.NewTicker(StreamInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f := v.Frame()
			if f == last {
				continue
			}
			if err := conn.WriteJSON(f); err != nil {
				return // Connection closed
			}
			last = f
		case <-closed:
			return
		}
	}
}
