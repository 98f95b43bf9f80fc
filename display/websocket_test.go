package display_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	Fd "github.com/maroda/fmdrisk/display"
	Fr "github.com/maroda/fmdrisk/risk"
)

func TestView_Frame(t *testing.T) {
	view := Fd.NewView("chain", nil)

	t.Run("Not ready before the first study", func(t *testing.T) {
		f := view.Frame()
		assertStringContains(t, f.Model, "chain")
		if f.Ready {
			t.Errorf("frame should not be ready")
		}
	})

	t.Run("Carries the latest event and report", func(t *testing.T) {
		view.Observe(Fr.Event{Stage: Fr.StageRun, Done: 2, Total: 4})
		view.SetReport(makeChainReport(t))
		f := view.Frame()
		assertStringContains(t, f.Event.Stage, Fr.StageRun)
		assertInt(t, f.Event.Done, 2)
		assertFloat(t, f.ExpectedCost, 1100)
		if !f.Ready || f.Batch == "" {
			t.Errorf("frame should be ready with a batch, got %+v", f)
		}
	})
}

func TestView_WebsocketHandler(t *testing.T) {
	Fd.StreamInterval = 10 * time.Millisecond
	view := Fd.NewView("chain", nil)
	srv := httptest.NewServer(view.SetupMux())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("could not dial websocket: %v", err)
	}
	defer conn.Close()

	read := func(t *testing.T) Fd.Frame {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var f Fd.Frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("could not read frame: %v", err)
		}
		return f
	}

	t.Run("Sends a frame on connect", func(t *testing.T) {
		f := read(t)
		assertStringContains(t, f.Model, "chain")
		if f.Ready {
			t.Errorf("frame should not be ready")
		}
	})

	t.Run("Sends progress as it changes", func(t *testing.T) {
		view.Observe(Fr.Event{Stage: Fr.StageRun, Done: 1, Total: 3, Scenario: "transform no_output, t=5"})
		f := read(t)
		assertStringContains(t, f.Event.Scenario, "transform")
		assertInt(t, f.Event.Total, 3)
	})

	t.Run("Sends the finished study", func(t *testing.T) {
		view.SetReport(makeChainReport(t))
		f := read(t)
		if !f.Ready {
			t.Fatalf("frame should be ready")
		}
		assertFloat(t, f.ExpectedCost, 1100)
	})
}
