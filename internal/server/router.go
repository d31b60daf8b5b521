package server

import (
	"net/http"
)

// NewRouter maps the annotation API onto a pattern-routed mux. events and
// metricsHandler are optional.
func NewRouter(api *API, events http.Handler, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	if api == nil {
		mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		})
		return mux
	}

	mux.HandleFunc("GET /healthz", api.health)
	mux.HandleFunc("GET /api/state", api.getState)
	mux.HandleFunc("POST /api/folder", api.setFolder)

	mux.HandleFunc("POST /api/pages/next", api.nextPage)
	mux.HandleFunc("POST /api/pages/prev", api.prevPage)
	mux.HandleFunc("POST /api/pages/save", api.savePage)
	mux.HandleFunc("POST /api/pages/restore", api.restorePage)
	mux.HandleFunc("POST /api/pages/reset", api.resetPage)
	mux.HandleFunc("POST /api/pages/{index}", api.goToPage)

	mux.HandleFunc("PUT /api/boxes/detected", api.setDetected)
	mux.HandleFunc("POST /api/boxes/custom", api.addCustom)
	mux.HandleFunc("DELETE /api/boxes/{index}", api.removeBox)

	mux.HandleFunc("POST /api/selection/click", api.click)
	mux.HandleFunc("DELETE /api/selection", api.clearSelection)

	mux.HandleFunc("POST /api/analysis", api.completeAnalysis)

	mux.HandleFunc("POST /api/stream/start", api.startStream)
	mux.HandleFunc("POST /api/stream/chunk", api.streamChunk)
	mux.HandleFunc("POST /api/stream/end", api.endStream)
	mux.HandleFunc("POST /api/stream/error", api.streamError)
	mux.HandleFunc("POST /api/stream/flush", api.flushStream)
	mux.HandleFunc("DELETE /api/stream", api.clearStream)

	mux.HandleFunc("POST /api/reveal", api.reveal)
	mux.HandleFunc("POST /api/reveal/all", api.revealAll)

	mux.HandleFunc("GET /api/cache/stats", api.cacheStats)
	mux.HandleFunc("GET /api/cache/page", api.cachedPage)
	mux.HandleFunc("DELETE /api/cache", api.clearAll)
	mux.HandleFunc("DELETE /api/cache/pages", api.clearPages)
	mux.HandleFunc("DELETE /api/cache/page", api.clearPage)
	mux.HandleFunc("DELETE /api/cache/page/detected", api.clearDetected)
	mux.HandleFunc("DELETE /api/cache/page/analysis", api.clearAnalysis)
	mux.HandleFunc("DELETE /api/cache/page/translation", api.clearTranslation)

	mux.HandleFunc("GET /api/words/{word}", api.getWord)
	mux.HandleFunc("PUT /api/words/{word}", api.putWord)
	mux.HandleFunc("DELETE /api/words/{word}", api.deleteWord)
	mux.HandleFunc("DELETE /api/words", api.clearWords)

	if events != nil {
		mux.Handle("GET /api/events", events)
	}
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	return mux
}
