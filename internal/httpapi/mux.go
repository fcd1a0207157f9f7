package httpapi

import (
	"net/http"

	"github.com/komcat/SiphogAdapter/internal/config"
	"github.com/komcat/SiphogAdapter/internal/control"
	"github.com/komcat/SiphogAdapter/internal/uplink"
)

// NewMux wires the health check and the device API. sampler may be nil when
// no uplink is configured.
func NewMux(ctrl *control.Controller, cfg config.Config, sampler *uplink.Sampler) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux)
	registerDeviceAPI(mux, newDeviceAPI(ctrl, cfg, sampler))
	return mux
}
