package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/cjeanneret/ServoGo/internal/logic/motion"
	"github.com/cjeanneret/ServoGo/internal/logic/registry"
)

// Controller is the slice of the motion facade the HTTP layer needs.
type Controller interface {
	SetAngle(channel int, angleDeg float64) (float64, error)
	SetSpeed(channel int, dps float64) (float64, error)
	CenterAll() (float64, error)
	ReleaseAll() error
	CurrentState() motion.Snapshot
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Controller  Controller
	Broadcaster *EventBroadcaster
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(ctrl Controller, broadcaster *EventBroadcaster, staticFS fs.FS) *Handlers {
	return &Handlers{
		Controller:  ctrl,
		Broadcaster: broadcaster,
		staticFS:    staticFS,
	}
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStatus handles GET /status: full angle/speed/metadata snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.Controller.CurrentState()

	angles := make(map[string]float64, len(snap.Channels))
	speeds := make(map[string]float64, len(snap.Channels))
	info := make(map[string]motion.ChannelStatus, len(snap.Channels))
	for id, st := range snap.Channels {
		key := strconv.Itoa(id)
		angles[key] = st.Angle
		speeds[key] = st.Speed
		info[key] = st
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":           true,
		"angles":       angles,
		"speeds":       speeds,
		"max_deg":      snap.MaxAngleDeg,
		"channel_info": info,
	})
}

// HandleSetAngle handles POST /servo/{channel}?angle=N.
func (h *Handlers) HandleSetAngle(w http.ResponseWriter, r *http.Request) {
	channel, ok := h.channelFromPath(w, r)
	if !ok {
		return
	}
	angle, ok := floatQuery(w, r, "angle")
	if !ok {
		return
	}

	clamped, err := h.Controller.SetAngle(channel, angle)
	if err != nil {
		h.writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok": true, "channel": channel, "angle": clamped,
	})
}

// HandleSetSpeed handles POST /speed/{channel}?dps=N.
func (h *Handlers) HandleSetSpeed(w http.ResponseWriter, r *http.Request) {
	channel, ok := h.channelFromPath(w, r)
	if !ok {
		return
	}
	dps, ok := floatQuery(w, r, "dps")
	if !ok {
		return
	}

	clamped, err := h.Controller.SetSpeed(channel, dps)
	if err != nil {
		h.writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok": true, "channel": channel, "dps": clamped,
	})
}

// HandleCenter handles POST /center: start a move to center on every channel.
func (h *Handlers) HandleCenter(w http.ResponseWriter, r *http.Request) {
	angle, err := h.Controller.CenterAll()
	if err != nil {
		h.writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "angle": angle})
}

// HandleRelease handles POST /release: de-energize every servo.
func (h *Handlers) HandleRelease(w http.ResponseWriter, r *http.Request) {
	if err := h.Controller.ReleaseAll(); err != nil {
		h.writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// HandleEvents handles GET /events for SSE.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	for {
		select {
		case msg, open := <-ch:
			if !open {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Handlers) channelFromPath(w http.ResponseWriter, r *http.Request) (int, bool) {
	channel, err := strconv.Atoi(r.PathValue("channel"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "channel must be an integer")
		return 0, false
	}
	return channel, true
}

func floatQuery(w http.ResponseWriter, r *http.Request, key string) (float64, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		writeError(w, http.StatusBadRequest, key+" query parameter is required")
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, key+" must be a number")
		return 0, false
	}
	return v, true
}

// writeControllerError maps facade errors onto HTTP statuses: out-of-range
// ids are bad requests, unconfigured ids are not found, the rest is internal.
func (h *Handlers) writeControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrChannelOutOfRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, registry.ErrChannelNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, motion.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"ok": false, "error": msg})
}
