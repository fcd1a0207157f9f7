package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/komcat/SiphogAdapter/internal/broadcast"
	"github.com/komcat/SiphogAdapter/internal/chart"
	"github.com/komcat/SiphogAdapter/internal/config"
	"github.com/komcat/SiphogAdapter/internal/control"
	"github.com/komcat/SiphogAdapter/internal/framing"
	"github.com/komcat/SiphogAdapter/internal/uplink"
	"github.com/komcat/SiphogAdapter/internal/utils"
)

const (
	defaultWindowSeconds = 10.0
	exportTimeLayout     = "20060102_150405"
)

type deviceAPI struct {
	ctrl          *control.Controller
	sampler       *uplink.Sampler
	exportDir     string
	serialPort    string
	broadcastHost string
	broadcastPort int
	now           func() time.Time
}

func newDeviceAPI(ctrl *control.Controller, cfg config.Config, sampler *uplink.Sampler) *deviceAPI {
	return &deviceAPI{
		ctrl:          ctrl,
		sampler:       sampler,
		exportDir:     cfg.ExportDir,
		serialPort:    cfg.SerialPort,
		broadcastHost: cfg.BroadcastHost,
		broadcastPort: cfg.BroadcastPort,
		now:           time.Now,
	}
}

func registerDeviceAPI(mux *http.ServeMux, a *deviceAPI) {
	mux.HandleFunc("GET /api/v1/status", a.handleStatus)
	mux.HandleFunc("GET /api/v1/ports", a.handlePorts)
	mux.HandleFunc("POST /api/v1/connect", a.handleConnect)
	mux.HandleFunc("POST /api/v1/disconnect", a.handleDisconnect)
	mux.HandleFunc("POST /api/v1/settings", a.handleSettings)
	mux.HandleFunc("GET /api/v1/latest", a.handleLatest)
	mux.HandleFunc("GET /api/v1/stats", a.handleStats)
	mux.HandleFunc("GET /api/v1/series/{channel}", a.handleSeries)
	mux.HandleFunc("GET /api/v1/window", a.handleWindow)
	mux.HandleFunc("POST /api/v1/export", a.handleExport)
	mux.HandleFunc("PUT /api/v1/chart/max-points", a.handleMaxPoints)
	mux.HandleFunc("DELETE /api/v1/chart", a.handleClearChart)
	mux.HandleFunc("GET /api/v1/events", a.handleEvents)
	mux.HandleFunc("DELETE /api/v1/events", a.handleClearEvents)
	mux.HandleFunc("POST /api/v1/server/start", a.handleServerStart)
	mux.HandleFunc("POST /api/v1/server/stop", a.handleServerStop)
}

type chartInfo struct {
	Points   int `json:"points"`
	Capacity int `json:"capacity"`
}

type deviceState struct {
	control.State
	LastMessage *sample `json:"last_message,omitempty"`
}

type statusResponse struct {
	Device      deviceState          `json:"device"`
	Framing     framing.Stats        `json:"framing"`
	Chart       chartInfo            `json:"chart"`
	Server      broadcast.Info       `json:"server"`
	ServerStats broadcast.Stats      `json:"server_stats"`
	DataKeys    []string             `json:"data_keys"`
	Uplink      *uplink.SamplerStats `json:"uplink,omitempty"`
}

func (a *deviceAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := a.ctrl.State()
	dev := deviceState{State: st}
	if st.LastMessage != nil {
		s := finiteSample(*st.LastMessage)
		dev.LastMessage = &s
	}

	resp := statusResponse{
		Device:      dev,
		Framing:     a.ctrl.FramingStats(),
		Chart:       chartInfo{Points: a.ctrl.Chart().Len(), Capacity: a.ctrl.Chart().Capacity()},
		Server:      a.ctrl.ServerInfo(),
		ServerStats: a.ctrl.ServerStats(),
		DataKeys:    a.ctrl.ServerDataKeys(),
	}
	if a.sampler != nil {
		us := a.sampler.Stats()
		resp.Uplink = &us
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

func (a *deviceAPI) handlePorts(w http.ResponseWriter, r *http.Request) {
	ports, err := a.ctrl.AvailablePorts()
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ports == nil {
		ports = []string{}
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{"ports": ports})
}

type connectRequest struct {
	Port string `json:"port"`
	Baud int    `json:"baud"`
}

func (a *deviceAPI) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := utils.ReadJSON(w, r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	port := strings.TrimSpace(req.Port)
	if port == "" {
		port = a.serialPort
	}
	if port == "" {
		utils.WriteError(w, http.StatusBadRequest, "missing port")
		return
	}

	if req.Baud != 0 {
		if a.ctrl.IsConnected() {
			writeControlError(w, control.ErrAlreadyConnected)
			return
		}
		if err := a.ctrl.SetBaudrate(req.Baud); err != nil {
			writeControlError(w, err)
			return
		}
	}

	if err := a.ctrl.Connect(r.Context(), port); err != nil {
		writeControlError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": a.ctrl.ConnectionInfo()})
}

func (a *deviceAPI) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := a.ctrl.Disconnect(); err != nil {
		writeControlError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": a.ctrl.ConnectionInfo()})
}

type settingsRequest struct {
	SledCurrentMA *int `json:"sled_current_ma"`
	TemperatureC  *int `json:"temperature_c"`
}

// handleSettings applies new setpoints. An omitted field keeps its current value.
func (a *deviceAPI) handleSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := utils.ReadJSON(w, r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	current := a.ctrl.Settings()
	sled, temp := current.SledCurrentMA, current.TemperatureC
	if req.SledCurrentMA != nil {
		sled = *req.SledCurrentMA
	}
	if req.TemperatureC != nil {
		temp = *req.TemperatureC
	}

	if err := a.ctrl.ApplySettings(r.Context(), sled, temp); err != nil {
		writeControlError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, a.ctrl.Settings())
}

func (a *deviceAPI) handleLatest(w http.ResponseWriter, r *http.Request) {
	m, ok := a.ctrl.LastMessage()
	if !ok {
		utils.WriteError(w, http.StatusNotFound, "no telemetry received yet")
		return
	}
	utils.WriteJSON(w, http.StatusOK, finiteSample(m))
}

func (a *deviceAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	buf := a.ctrl.Chart()
	out := make(map[string]chart.DataStats, len(chart.Channels()))
	for _, c := range chart.Channels() {
		out[c.String()] = finiteStats(buf.Stats(c))
	}
	utils.WriteJSON(w, http.StatusOK, out)
}

type seriesResponse struct {
	Channel string     `json:"channel"`
	Points  int        `json:"points"`
	Time    []*float64 `json:"time"`
	Values  []*float64 `json:"values"`
}

// handleSeries returns one channel with its timestamps, oldest first.
// ?last=N trims to the newest N points.
func (a *deviceAPI) handleSeries(w http.ResponseWriter, r *http.Request) {
	c, err := chart.ParseChannel(r.PathValue("channel"))
	if err != nil {
		utils.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	last, err := parsePositiveQuery(r, "last", 0)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap := a.ctrl.Chart().Snapshot()
	times, values := snap[chart.Time], snap[c]
	if last > 0 && len(values) > last {
		times = times[len(times)-last:]
		values = values[len(values)-last:]
	}
	utils.WriteJSON(w, http.StatusOK, seriesResponse{
		Channel: c.String(),
		Points:  len(values),
		Time:    finiteSeries(times),
		Values:  finiteSeries(values),
	})
}

func (a *deviceAPI) handleWindow(w http.ResponseWriter, r *http.Request) {
	window := defaultWindowSeconds
	if s := r.URL.Query().Get("seconds"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 {
			utils.WriteError(w, http.StatusBadRequest, "invalid 'seconds' (expected positive number)")
			return
		}
		window = v
	}
	start, end := a.ctrl.Chart().TimeWindow(window)
	utils.WriteJSON(w, http.StatusOK, map[string]float64{
		"start":   start,
		"end":     end,
		"seconds": window,
	})
}

type exportRequest struct {
	Filename string `json:"filename"`
}

// handleExport writes the chart buffer to a CSV file inside the export
// directory. Only the base name of a requested filename is used.
func (a *deviceAPI) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := utils.ReadJSON(w, r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !a.ctrl.Chart().HasData() {
		utils.WriteError(w, http.StatusConflict, "no chart data to export")
		return
	}

	name, err := a.exportName(req.Filename)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	path := filepath.Join(a.exportDir, name)

	n, err := a.ctrl.Export(path)
	if err != nil {
		slog.Error("export failed", "path", path, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to export chart data")
		return
	}
	utils.WriteJSON(w, http.StatusCreated, map[string]any{
		"path":  path,
		"bytes": n,
		"size":  humanize.Bytes(uint64(n)),
	})
}

func (a *deviceAPI) exportName(requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return "siphog_" + a.now().Format(exportTimeLayout) + ".csv", nil
	}
	name := filepath.Base(requested)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid filename %q", requested)
	}
	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		name += ".csv"
	}
	return name, nil
}

type maxPointsRequest struct {
	MaxPoints int `json:"max_points"`
}

func (a *deviceAPI) handleMaxPoints(w http.ResponseWriter, r *http.Request) {
	var req maxPointsRequest
	if err := utils.ReadJSON(w, r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	buf := a.ctrl.Chart()
	if err := buf.SetMaxPoints(req.MaxPoints); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	utils.WriteJSON(w, http.StatusOK, chartInfo{Points: buf.Len(), Capacity: buf.Capacity()})
}

func (a *deviceAPI) handleClearChart(w http.ResponseWriter, r *http.Request) {
	buf := a.ctrl.Chart()
	buf.Clear()
	utils.WriteJSON(w, http.StatusOK, chartInfo{Points: buf.Len(), Capacity: buf.Capacity()})
}

func (a *deviceAPI) handleEvents(w http.ResponseWriter, r *http.Request) {
	events := a.ctrl.Events()
	if events == nil {
		events = []control.Event{}
	}
	utils.WriteJSON(w, http.StatusOK, events)
}

func (a *deviceAPI) handleClearEvents(w http.ResponseWriter, r *http.Request) {
	a.ctrl.ClearEvents()
	utils.WriteJSON(w, http.StatusOK, a.ctrl.Events())
}

type serverStartRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (a *deviceAPI) handleServerStart(w http.ResponseWriter, r *http.Request) {
	req := serverStartRequest{Host: a.broadcastHost, Port: a.broadcastPort}
	if err := utils.ReadJSON(w, r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Port < 0 || req.Port > 65535 {
		utils.WriteError(w, http.StatusBadRequest, "invalid 'port' (expected 0-65535)")
		return
	}

	if err := a.ctrl.StartServer(req.Host, req.Port); err != nil {
		if errors.Is(err, broadcast.ErrAlreadyRunning) {
			utils.WriteError(w, http.StatusConflict, err.Error())
			return
		}
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.WriteJSON(w, http.StatusOK, a.ctrl.ServerInfo())
}

func (a *deviceAPI) handleServerStop(w http.ResponseWriter, r *http.Request) {
	a.ctrl.StopServer()
	utils.WriteJSON(w, http.StatusOK, a.ctrl.ServerInfo())
}

func writeControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, control.ErrInvalidSetting):
		utils.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, control.ErrAlreadyConnected), errors.Is(err, control.ErrNotConnected):
		utils.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		utils.WriteError(w, http.StatusServiceUnavailable, err.Error())
	default:
		utils.WriteError(w, http.StatusBadGateway, err.Error())
	}
}

func parsePositiveQuery(r *http.Request, key string, def int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid '%s' (expected integer)", key)
	}
	if n <= 0 {
		return 0, fmt.Errorf("'%s' must be > 0", key)
	}
	return n, nil
}
