package display

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/gdamore/tcell/v2"
	Fo "github.com/maroda/fmdrisk/obvy"
	Fx "github.com/maroda/fmdrisk/plugin"
	Fr "github.com/maroda/fmdrisk/risk"
)

const (
	screenGutter = 4  // first table row
	labelWidth   = 34 // mode name column
	numberWidth  = 11 // each numeric column
)

// View holds the latest study report and its progress.
// The terminal, the HTTP API and the websocket all read from it.
type View struct {
	MU         sync.Mutex
	Model      string            // name of the model under study
	Screen     tcell.Screen      // nil when running headless
	Stats      *Fo.StatsInternal // Internal status for prometheus
	Output     Fx.OutputAdapter  // optional, queried by /api/endclasses?batch=
	Supervisor *StudySupervisor  // reruns the study on demand
	SelectMode int               // row selected with MouseClick or arrows
	ShowPoints bool              // per-time points of the selected row
	server     *http.Server      // API and metrics server
	closed     bool              // Shutdown was called
	drawMU     sync.Mutex        // one frame at a time
	report     *Fr.Report        // latest finished study
	progress   Fr.Event          // latest progress event
	rows       []Fr.ModeRow      // modes of report, by expected cost
}

// NewView creates a View for model. The terminal is attached with AttachScreen.
func NewView(model string, stats *Fo.StatsInternal) *View {
	if stats == nil {
		stats = Fo.NewStatsInternal()
	}
	return &View{
		Model:      model,
		Stats:      stats,
		SelectMode: -1,
	}
}

// AttachScreen sets the terminal and draws the first frame.
func (v *View) AttachScreen(s tcell.Screen) {
	v.MU.Lock()
	v.Screen = s
	v.MU.Unlock()
	v.UpdateScreen()
}

// SetReport publishes a finished study.
func (v *View) SetReport(r *Fr.Report) {
	if r == nil || r.Summary == nil {
		return
	}
	rows := make([]Fr.ModeRow, len(r.Summary.Modes))
	copy(rows, r.Summary.Modes)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ExpectedCost > rows[j].ExpectedCost })

	v.MU.Lock()
	v.report = r
	v.rows = rows
	if v.SelectMode >= len(rows) {
		v.SelectMode = -1
	}
	v.MU.Unlock()

	if v.Stats != nil {
		v.Stats.RecStudy(v.Model, r.Summary.TotalExpectedCost, r.Summary.Scenarios)
	}
	slog.Info("Study published",
		slog.String("batch", r.ID),
		slog.String("model", v.Model),
		slog.Float64("expected_cost", r.Summary.TotalExpectedCost))
	v.UpdateScreen()
}

// Report returns the latest finished study, nil before the first one.
func (v *View) Report() *Fr.Report {
	v.MU.Lock()
	defer v.MU.Unlock()
	return v.report
}

// Observe records a progress event. It fits Fr.Study.Progress.
func (v *View) Observe(ev Fr.Event) {
	v.MU.Lock()
	v.progress = ev
	v.MU.Unlock()
}

// Progress returns the latest progress event.
func (v *View) Progress() Fr.Event {
	v.MU.Lock()
	defer v.MU.Unlock()
	return v.progress
}

// Sparkline scales vals into one bar rune each, squeezing them into width
// columns by summing neighbours. Zero stays blank.
func Sparkline(vals []float64, width int) []rune {
	if width <= 0 || len(vals) == 0 {
		return nil
	}
	cols := vals
	if len(vals) > width {
		cols = make([]float64, width)
		for i, val := range vals {
			cols[i*width/len(vals)] += val
		}
	}

	peak := 0.0
	for _, c := range cols {
		peak = math.Max(peak, c)
	}
	bars := []rune("▁▂▃▄▅▆▇█")
	out := make([]rune, len(cols))
	for i, c := range cols {
		if c <= 0 || peak == 0 {
			out[i] = ' '
			continue
		}
		lvl := int(math.Ceil(c/peak*float64(len(bars)))) - 1
		out[i] = bars[max(0, min(lvl, len(bars)-1))]
	}
	return out
}

// DrawCostOverTime draws the expected cost by injection time
func DrawCostOverTime(s tcell.Screen, x, y, width int, points []Fr.TimePoint) {
	vals := make([]float64, len(points))
	for i, p := range points {
		vals[i] = p.ExpectedCost
	}

	for i, r := range Sparkline(vals, width) {
		var style tcell.Style
		switch r {
		case '▁', '▂':
			style = tcell.StyleDefault.Foreground(tcell.ColorSeaGreen)
		case '▃', '▄':
			style = tcell.StyleDefault.Foreground(tcell.ColorDarkTurquoise)
		case '▅', '▆':
			style = tcell.StyleDefault.Foreground(tcell.ColorDarkOrange)
		case '▇', '█':
			style = tcell.StyleDefault.Foreground(tcell.ColorMaroon)
		default:
			style = tcell.StyleDefault
		}
		s.SetContent(x+i, y, r, nil, style)
	}
}

// DrawText displays the text string at the given (x1, y1) with box size (x2, y2)
func DrawText(s tcell.Screen, x1, y1, x2, y2 int, text string) {
	row := y1
	col := x1
	style := tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorLightSteelBlue)
	for _, r := range text {
		s.SetContent(col, row, r, nil, style)
		col++
		if col >= x2 {
			row++
			col = x1
		}
		if row > y2 {
			break
		}
	}
}

// DrawViewBorder displays the outline of the View
func DrawViewBorder(s tcell.Screen, width, height int) {
	hvStyle := tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorPink)
	s.SetContent(0, 0, tcell.RuneULCorner, nil, hvStyle)
	for i := 1; i < width; i++ {
		s.SetContent(i, 0, tcell.RuneHLine, nil, hvStyle)
		s.SetContent(i, height, tcell.RuneHLine, nil, hvStyle)
	}
	s.SetContent(width, 0, tcell.RuneURCorner, nil, hvStyle)

	for i := 1; i < height; i++ {
		s.SetContent(0, i, tcell.RuneVLine, nil, hvStyle)
		s.SetContent(width, i, tcell.RuneVLine, nil, hvStyle)
	}
	s.SetContent(0, height, tcell.RuneLLCorner, nil, hvStyle)
	s.SetContent(width, height, tcell.RuneLRCorner, nil, hvStyle)
}

// DrawRiskView draws the FMEA table of the latest study:
// one row per mode with a bar scaled to the largest expected cost,
// then the cost over time and the points of the selected row.
func (v *View) DrawRiskView(s tcell.Screen) {
	width, height := s.Size()

	// Obtain a lock and grab needed display data
	v.MU.Lock()
	report := v.report
	rows := v.rows
	progress := v.progress
	selected := v.SelectMode
	showPoints := v.ShowPoints
	v.MU.Unlock()

	DrawViewBorder(s, width-2, height-1)
	DrawText(s, width-9, height-1, width, height+10, "FMDRISK")

	if progress.Stage != "" && progress.Stage != Fr.StageDone {
		DrawText(s, 2, 2, width-2, 2, fmt.Sprintf("%s %d/%d %s", progress.Stage, progress.Done, progress.Total, progress.Scenario))
	}
	if report == nil {
		DrawText(s, 2, 1, width-2, 1, fmt.Sprintf("%s: waiting for the first study", v.Model))
		DrawText(s, 1, height-1, width, height+10, "/ESC/ to quit")
		return
	}

	sum := report.Summary
	DrawText(s, 2, 1, width-2, 1, fmt.Sprintf("%s  batch %s  expected cost %.4g  nominal cost %.4g  scenarios %d  failed %d",
		v.Model, report.ID, sum.TotalExpectedCost, sum.NominalCost, sum.Scenarios, len(sum.Failed)))
	DrawText(s, 2, 3, width-2, 3, fmt.Sprintf("%-*s%*s%*s%*s", labelWidth, "mode", numberWidth, "rate", numberWidth, "cost", numberWidth, "exp. cost"))

	peak := 0.0
	if len(rows) > 0 {
		peak = rows[0].ExpectedCost
	}
	barX := 2 + labelWidth + 3*numberWidth + 1
	bottom := height - 5
	for i, row := range rows {
		y := screenGutter + i
		if y >= bottom {
			break
		}
		label := row.Name
		if r := []rune(label); len(r) > labelWidth-1 {
			label = string(r[:labelWidth-2]) + "~"
		}
		DrawText(s, 2, y, width-2, y, fmt.Sprintf("%-*s%*.3g%*.4g%*.4g", labelWidth, label, numberWidth, row.Rate, numberWidth, row.Cost, numberWidth, row.ExpectedCost))

		style := tcell.StyleDefault.Background(tcell.ColorDarkTurquoise)
		if i == selected {
			style = tcell.StyleDefault.Background(tcell.ColorDarkOrange)
		}
		if peak > 0 && barX < width-3 {
			span := int(math.Round(row.ExpectedCost / peak * float64(width-3-barX)))
			WriteBar(s, barX, y, barX+span, y+1, style)
		}
	}

	DrawText(s, 2, height-4, width-2, height-4, "cost over time")
	DrawCostOverTime(s, 17, height-4, width-20, sum.CostOverTime)

	if showPoints && selected >= 0 && selected < len(rows) {
		var line string
		for _, p := range rows[selected].Points {
			line += fmt.Sprintf("t=%g:%.3g  ", p.Time, p.ExpectedCost)
		}
		DrawText(s, 2, height-3, width-3, height-3, line)
	}

	DrawText(s, 1, height-1, width, height+10, "/p/ points | /r/ rerun | /ESC/ to quit")
}

// HandleMouseClick selects the table row under (x, y)
func (v *View) HandleMouseClick(x, y int) {
	v.MU.Lock()
	defer v.MU.Unlock()

	// Assume there is no row so the last one is cleared.
	v.SelectMode = -1
	row := y - screenGutter
	if row >= 0 && row < len(v.rows) && x >= 1 {
		v.SelectMode = row
	}
}

// moveSelection steps the selected row by delta
func (v *View) moveSelection(delta int) {
	v.MU.Lock()
	defer v.MU.Unlock()
	if len(v.rows) == 0 {
		return
	}
	v.SelectMode = max(0, min(v.SelectMode+delta, len(v.rows)-1))
}

// HandleKey applies one key press and reports whether it asks to quit.
func (v *View) HandleKey(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return true
	case tcell.KeyUp:
		v.moveSelection(-1)
	case tcell.KeyDown:
		v.moveSelection(1)
	}

	switch ev.Rune() {
	case 'p':
		v.MU.Lock()
		v.ShowPoints = !v.ShowPoints
		v.MU.Unlock()
	case 'r':
		if v.Supervisor != nil && !v.Supervisor.Stopped() {
			slog.Info("Rerunning study", slog.String("model", v.Model))
			go v.Supervisor.Restart()
		}
	}
	return false
}

// handleKeyBoardEvent runs until quit is asked for
func (v *View) handleKeyBoardEvent(s tcell.Screen) {
	for {
		ev := s.PollEvent()
		switch ev := ev.(type) {
		case nil:
			return // screen finalized
		case *tcell.EventResize:
			v.ResizeScreen()
		case *tcell.EventKey:
			if v.HandleKey(ev) {
				return
			}
			v.UpdateScreen()
		case *tcell.EventMouse:
			// Button1 is Left Mouse Button
			if ev.Buttons() == tcell.Button1 {
				v.HandleMouseClick(ev.Position())
				v.UpdateScreen()
			}
		}
	}
}

// screen is the attached terminal, nil when headless
func (v *View) screen() tcell.Screen {
	v.MU.Lock()
	defer v.MU.Unlock()
	return v.Screen
}

// GetScreenSize provides the terminal size for drawing
func (v *View) GetScreenSize() (int, int) {
	s := v.screen()
	if s == nil {
		return 0, 0
	}
	return s.Size()
}

// ResizeScreen redraws after terminal changes
func (v *View) ResizeScreen() {
	if s := v.screen(); s != nil {
		s.Sync()
	}
	v.UpdateScreen()
}

// UpdateScreen draws one frame on the attached terminal, if any.
// Frames never interleave, and a screen detached mid-frame is not drawn on again.
func (v *View) UpdateScreen() {
	v.drawMU.Lock()
	defer v.drawMU.Unlock()

	s := v.screen()
	if s == nil {
		return
	}
	s.Clear()
	v.DrawRiskView(s)
	s.Show()
}

// DetachScreen stops drawing and returns the terminal that was attached.
func (v *View) DetachScreen() tcell.Screen {
	v.drawMU.Lock()
	defer v.drawMU.Unlock()

	v.MU.Lock()
	defer v.MU.Unlock()
	s := v.Screen
	v.Screen = nil
	return s
}

// RespWriter is a wrapper with StatsMiddleware, used for Prometheus
type RespWriter struct {
	http.ResponseWriter
	Status int
}

// WriteHeader is a helper for StatsMiddleware, used for Prometheus
func (w *RespWriter) WriteHeader(status int) {
	w.Status = status
	w.ResponseWriter.WriteHeader(status)
}

// Write is a helper for StatsMiddleware, used for Prometheus
func (w *RespWriter) Write(b []byte) (int, error) {
	return w.ResponseWriter.Write(b)
}

func (v *View) StatsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &RespWriter{
			ResponseWriter: w,
			Status:         200,
		}
		next.ServeHTTP(wrapped, r)

		if v.Stats != nil {
			v.Stats.RecWWW(strconv.Itoa(wrapped.Status), r.Method)
		}
	})
}

// StartTerminal takes over the TTY until ESC, Ctrl-C or ctx ends.
func (v *View) StartTerminal(ctx context.Context) error {
	screen, err := GetTTY()
	if err != nil {
		slog.Error("Could not start terminal view", slog.Any("error", err))
		return err
	}
	v.AttachScreen(screen)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			screen.Fini() // unblocks PollEvent
		case <-done:
		}
	}()
	v.handleKeyBoardEvent(screen)

	v.DetachScreen()
	screen.Fini()
	return nil
}

// Serve runs the API and metrics server on addr until Shutdown.
// After Shutdown it returns at once.
func (v *View) Serve(addr string) error {
	v.MU.Lock()
	if v.closed {
		v.MU.Unlock()
		return nil
	}
	v.server = &http.Server{
		Addr:    addr,
		Handler: v.SetupMux(),
	}
	srv := v.server
	v.MU.Unlock()

	slog.Info("Starting fmdrisk web server...", slog.String("Port", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Could not start web server", slog.Any("error", err))
		return err
	}
	return nil
}

// Shutdown stops the server started by Serve, or keeps one from starting.
func (v *View) Shutdown(ctx context.Context) error {
	v.MU.Lock()
	v.closed = true
	srv := v.server
	v.MU.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
