package httpapi

import (
	"net/http"

	"github.com/komcat/SiphogAdapter/internal/utils"
)

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func registerHealthcheck(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", handleHealthz)
}
