package health

import (
	"net/http"

	log "github.com/sirupsen/logrus"
)

const healthPath = "/health"

// HttpHandler answers 204 while checker is healthy and 503, with the failure as a plain text body, otherwise.
type HttpHandler struct {
	checker Checker
}

func NewHttpHandler(checker Checker) *HttpHandler {
	return &HttpHandler{checker: checker}
}

func (h *HttpHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	err := h.checker.Check()
	if err == nil {
		log.Debug("Health check passed")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	log.Warnf("Health check failed: %v", err)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	if _, err := w.Write([]byte(err.Error())); err != nil {
		log.WithError(err).Error("Failed to write health check response")
	}
}

func SetupHttpMux(mux *http.ServeMux, checker Checker) {
	mux.Handle(healthPath, NewHttpHandler(checker))
}
