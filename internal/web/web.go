package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/cors"

	"calgrid/internal/drag"
	"calgrid/internal/layout"
	appLog "calgrid/internal/log"
	"calgrid/internal/model"
	"calgrid/internal/recur"
	"calgrid/internal/view"
)

// maxDragBody bounds a gesture replay payload.
const maxDragBody = 1 << 20

// Server exposes the calendar view and drag controller over JSON.
type Server struct {
	view  *view.View
	drags *drag.Controller
	loc   *time.Location
	now   func() time.Time
	mux   *http.ServeMux

	corsOrigins []string
}

// NewServer constructs a Server deriving windows in loc (time.Local when
// nil).
func NewServer(v *view.View, drags *drag.Controller, loc *time.Location) *Server {
	if loc == nil {
		loc = time.Local
	}
	s := &Server{
		view:  v,
		drags: drags,
		loc:   loc,
		now:   time.Now,
		mux:   http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// AllowOrigins enables CORS for the given browser origins ("*" for any).
func (s *Server) AllowOrigins(origins ...string) *Server {
	s.corsOrigins = append(s.corsOrigins, origins...)
	return s
}

// Handler returns the http.Handler for this server, wrapped in CORS
// handling when origins were allowed.
func (s *Server) Handler() http.Handler {
	if len(s.corsOrigins) == 0 {
		return s.mux
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(s.mux)
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		appLog.Info("shutting down HTTP server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/occurrences", s.handleOccurrences)
	s.mux.HandleFunc("GET /api/layout", s.handleLayout)
	s.mux.HandleFunc("POST /api/drag", s.handleDrag)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleEvents returns the stored event definitions in wire form.
func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	events := s.view.Events()
	out := make([]model.WireEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, model.FromEvent(ev))
	}
	writeJSON(w, http.StatusOK, out)
}

type windowDTO struct {
	View  recur.Granularity `json:"view"`
	Start time.Time         `json:"start"`
	End   time.Time         `json:"end"`
}

type occurrencesResponse struct {
	Window      windowDTO       `json:"window"`
	Occurrences []occurrenceDTO `json:"occurrences"`
	Truncated   []string        `json:"truncated,omitempty"`
}

type occurrenceDTO struct {
	ID         string    `json:"id"`
	EventID    string    `json:"eventId"`
	Title      string    `json:"title"`
	CalendarID string    `json:"calendarId"`
	Color      string    `json:"color,omitempty"`
	AllDay     bool      `json:"isAllDay"`
	Virtual    bool      `json:"virtual"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

type blockDTO struct {
	occurrenceDTO
	ColumnIndex  int     `json:"columnIndex"`
	ColumnCount  int     `json:"columnCount"`
	WidthPercent float64 `json:"widthPercent"`
	LeftPercent  float64 `json:"leftPercent"`
	Top          float64 `json:"top"`
	Height       float64 `json:"height"`
}

type dayDTO struct {
	Day    string          `json:"day"`
	AllDay []occurrenceDTO `json:"allDay"`
	Blocks []blockDTO      `json:"blocks"`
}

type layoutResponse struct {
	Days []dayDTO `json:"days"`
}

func toOccurrenceDTO(o model.Occurrence) occurrenceDTO {
	return occurrenceDTO{
		ID:         o.ID,
		EventID:    o.EventID,
		Title:      o.Event.Title,
		CalendarID: o.Event.CalendarID,
		Color:      o.Event.Color,
		AllDay:     o.Event.AllDay,
		Virtual:    o.Virtual,
		Start:      o.Start,
		End:        o.End,
	}
}

func toBlockDTO(b layout.Block) blockDTO {
	return blockDTO{
		occurrenceDTO: toOccurrenceDTO(b.Occurrence),
		ColumnIndex:   b.ColumnIndex,
		ColumnCount:   b.ColumnCount,
		WidthPercent:  b.WidthPercent,
		LeftPercent:   b.LeftPercent,
		Top:           b.Top,
		Height:        b.Height,
	}
}

func toDayDTO(d view.DayLayout) dayDTO {
	out := dayDTO{
		Day:    d.Day.Format(time.DateOnly),
		AllDay: make([]occurrenceDTO, 0, len(d.AllDay)),
		Blocks: make([]blockDTO, 0, len(d.Blocks)),
	}
	for _, o := range d.AllDay {
		out.AllDay = append(out.AllDay, toOccurrenceDTO(o))
	}
	for _, b := range d.Blocks {
		out.Blocks = append(out.Blocks, toBlockDTO(b))
	}
	return out
}

// handleOccurrences returns the expanded occurrences of one window.
//
// GET /api/occurrences?view=day|week|month&date=YYYY-MM-DD
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	g, err := recur.ParseGranularity(q.Get("view"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ref, err := s.parseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	win := recur.WindowFor(ref, g)
	res := s.view.Occurrences(win)

	resp := occurrencesResponse{
		Window:      windowDTO{View: g, Start: win.Start, End: win.End},
		Occurrences: make([]occurrenceDTO, 0, len(res.Occurrences)),
		Truncated:   res.Truncated,
	}
	for _, o := range res.Occurrences {
		resp.Occurrences = append(resp.Occurrences, toOccurrenceDTO(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLayout returns positioned blocks per day.
//
// GET /api/layout?date=YYYY-MM-DD[&view=week]
func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref, err := s.parseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	var days []view.DayLayout
	switch q.Get("view") {
	case "", string(recur.Day):
		days = []view.DayLayout{s.view.Day(ref)}
	case string(recur.Week):
		days, err = s.view.Week(r.Context(), ref)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "view must be day or week")
		return
	}

	resp := layoutResponse{Days: make([]dayDTO, 0, len(days))}
	for _, d := range days {
		resp.Days = append(resp.Days, toDayDTO(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

// dragRequest replays one pointer gesture: down at AnchorY, the given
// moves, then up at EndY (or a cancel).
type dragRequest struct {
	OccurrenceID string      `json:"occurrenceId"`
	Target       drag.Target `json:"target"`
	AnchorY      float64     `json:"anchorY"`
	Moves        []float64   `json:"moves"`
	EndY         *float64    `json:"endY"`
	Cancel       bool        `json:"cancel"`
}

type dragResponse struct {
	SessionID string    `json:"sessionId"`
	CommitID  string    `json:"commitId,omitempty"`
	EventID   string    `json:"eventId"`
	Kind      drag.Kind `json:"kind"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Canceled  bool      `json:"canceled"`
}

// handleDrag runs a full drag gesture and returns once the commit is
// submitted; persistence resolves asynchronously.
//
// POST /api/drag
func (s *Server) handleDrag(w http.ResponseWriter, r *http.Request) {
	var req dragRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDragBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid drag request: "+err.Error())
		return
	}
	if req.OccurrenceID == "" {
		writeError(w, http.StatusBadRequest, "occurrenceId is required")
		return
	}
	if req.Target == "" {
		req.Target = drag.TargetBody
	}

	sess, err := s.drags.OnDragStart(drag.Pointer{Y: req.AnchorY, OccurrenceID: req.OccurrenceID, Target: req.Target})
	if err != nil {
		writeDragError(w, err)
		return
	}
	for _, y := range req.Moves {
		if sess, err = s.drags.OnDragMove(drag.Pointer{Y: y}); err != nil {
			writeDragError(w, err)
			return
		}
	}

	resp := dragResponse{SessionID: sess.ID, EventID: sess.EventID, Kind: sess.Kind}
	if req.Cancel {
		if err := s.drags.Cancel(); err != nil {
			writeDragError(w, err)
			return
		}
		resp.Canceled = true
		resp.Start, resp.End = sess.OriginalStart, sess.OriginalEnd
		writeJSON(w, http.StatusOK, resp)
		return
	}

	endY := req.AnchorY
	if req.EndY != nil {
		endY = *req.EndY
	} else if n := len(req.Moves); n > 0 {
		endY = req.Moves[n-1]
	}
	if sess, err = s.drags.OnDragMove(drag.Pointer{Y: endY}); err != nil {
		writeDragError(w, err)
		return
	}
	commitID, err := s.drags.OnDragEnd(drag.Pointer{Y: endY})
	if err != nil {
		writeDragError(w, err)
		return
	}
	resp.CommitID = commitID
	resp.Start, resp.End = sess.Start, sess.End
	writeJSON(w, http.StatusAccepted, resp)
}

func writeDragError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, drag.ErrUnknownOccurrence):
		status = http.StatusNotFound
	case errors.Is(err, drag.ErrVirtualOccurrence):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, drag.ErrSessionActive), errors.Is(err, drag.ErrNoSession):
		status = http.StatusConflict
	}
	writeError(w, status, err.Error())
}

func (s *Server) parseDate(v string) (time.Time, error) {
	if v == "" {
		return s.now().In(s.loc), nil
	}
	return time.ParseInLocation(time.DateOnly, v, s.loc)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
