package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Njaecha/manga-helper/internal/address"
	"github.com/Njaecha/manga-helper/internal/annotation"
	"github.com/Njaecha/manga-helper/internal/cache"
	"github.com/Njaecha/manga-helper/internal/session"
	"github.com/Njaecha/manga-helper/internal/state"
)

// maxBodyBytes bounds request bodies; analysis payloads for large multi-box
// selections are the biggest.
const maxBodyBytes = 4 << 20

// API exposes a Session over JSON.
type API struct {
	session *session.Session
	logger  *slog.Logger
}

func NewAPI(s *session.Session, logger *slog.Logger) (*API, error) {
	if s == nil {
		return nil, errors.New("server: session required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &API{session: s, logger: logger.With(slog.String("agent", "api"))}, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

type folderRequest struct {
	Path   string   `json:"path"`
	Images []string `json:"images"`
}

type detectedRequest struct {
	Boxes []annotation.Box `json:"boxes"`
}

type customRequest struct {
	Box annotation.Box `json:"box"`
}

type clickRequest struct {
	Index int  `json:"index"`
	Multi bool `json:"multi"`
}

type analysisRequest struct {
	Selection []int                     `json:"selection"`
	Result    annotation.AnalysisResult `json:"result"`
}

type streamErrorRequest struct {
	Message string `json:"message"`
}

type revealRequest struct {
	Index    int    `json:"index"`
	Kind     string `json:"kind"`
	Revealed bool   `json:"revealed"`
}

type revealAllRequest struct {
	Kind     string `json:"kind"`
	Count    int    `json:"count"`
	Revealed bool   `json:"revealed"`
}

type stateResponse struct {
	State *state.Snapshot `json:"state"`
}

type pageCacheResponse struct {
	Key            string           `json:"key"`
	Entry          *cache.PageEntry `json:"entry"`
	HasDetected    bool             `json:"hasDetectedBoxes"`
	HasAnalysis    bool             `json:"hasAnalysis"`
	HasTranslation bool             `json:"hasTranslation"`
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "session": a.session.ID()})
}

func (a *API) getState(w http.ResponseWriter, _ *http.Request) {
	a.writeState(w)
}

func (a *API) setFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if !a.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("path required"))
		return
	}
	a.session.SetFolder(r.Context(), req.Path, req.Images)
	a.writeState(w)
}

func (a *API) nextPage(w http.ResponseWriter, r *http.Request) {
	a.respond(w, a.session.NextPage(r.Context()))
}

func (a *API) prevPage(w http.ResponseWriter, r *http.Request) {
	a.respond(w, a.session.PrevPage(r.Context()))
}

func (a *API) goToPage(w http.ResponseWriter, r *http.Request) {
	index, ok := a.pathIndex(w, r)
	if !ok {
		return
	}
	a.respond(w, a.session.GoToPage(r.Context(), index))
}

func (a *API) savePage(w http.ResponseWriter, r *http.Request) {
	saved := a.session.SaveCurrentPage(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"saved": saved, "state": a.session.Snapshot()})
}

func (a *API) restorePage(w http.ResponseWriter, r *http.Request) {
	restored := a.session.RestoreCurrentPage(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"restored": restored, "state": a.session.Snapshot()})
}

func (a *API) resetPage(w http.ResponseWriter, _ *http.Request) {
	a.session.ResetAnalysisState()
	a.writeState(w)
}

func (a *API) setDetected(w http.ResponseWriter, r *http.Request) {
	var req detectedRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.session.SetDetectedBoxes(req.Boxes)
	a.writeState(w)
}

func (a *API) addCustom(w http.ResponseWriter, r *http.Request) {
	var req customRequest
	if !a.decode(w, r, &req) {
		return
	}
	index := a.session.AddCustomBox(req.Box)
	writeJSON(w, http.StatusCreated, map[string]any{"index": index, "state": a.session.Snapshot()})
}

func (a *API) removeBox(w http.ResponseWriter, r *http.Request) {
	index, ok := a.pathIndex(w, r)
	if !ok {
		return
	}
	a.respond(w, a.session.RemoveBox(r.Context(), index))
}

func (a *API) click(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if !a.decode(w, r, &req) {
		return
	}
	_, err := a.session.ClickBox(r.Context(), req.Index, req.Multi)
	a.respond(w, err)
}

func (a *API) clearSelection(w http.ResponseWriter, _ *http.Request) {
	a.session.ClearSelection()
	a.writeState(w)
}

func (a *API) completeAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysisRequest
	if !a.decode(w, r, &req) {
		return
	}
	displayed, err := a.session.CompleteAnalysis(r.Context(), req.Selection, req.Result)
	if err != nil {
		a.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"displayed": displayed, "state": a.session.Snapshot()})
}

func (a *API) startStream(w http.ResponseWriter, _ *http.Request) {
	a.session.StartStream()
	a.writeState(w)
}

func (a *API) streamChunk(w http.ResponseWriter, r *http.Request) {
	var chunk annotation.StreamChunk
	if !a.decode(w, r, &chunk) {
		return
	}
	if err := a.session.AppendStreamChunk(chunk); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) endStream(w http.ResponseWriter, r *http.Request) {
	a.respond(w, a.session.EndStream(r.Context()))
}

func (a *API) streamError(w http.ResponseWriter, r *http.Request) {
	var req streamErrorRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.session.FailStream(req.Message)
	a.writeState(w)
}

func (a *API) flushStream(w http.ResponseWriter, r *http.Request) {
	a.respond(w, a.session.UpdateCachedTranslation(r.Context()))
}

func (a *API) clearStream(w http.ResponseWriter, _ *http.Request) {
	a.session.ClearStream()
	a.writeState(w)
}

func (a *API) reveal(w http.ResponseWriter, r *http.Request) {
	var req revealRequest
	if !a.decode(w, r, &req) {
		return
	}
	kind, err := annotation.ParseTokenKind(req.Kind)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	a.respond(w, a.session.SetTokenRevealed(req.Index, kind, req.Revealed))
}

func (a *API) revealAll(w http.ResponseWriter, r *http.Request) {
	var req revealAllRequest
	if !a.decode(w, r, &req) {
		return
	}
	var kind annotation.TokenKind
	if strings.TrimSpace(req.Kind) != "" {
		parsed, err := annotation.ParseTokenKind(req.Kind)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		kind = parsed
	}
	a.respond(w, a.session.SetAllRevealed(kind, req.Count, req.Revealed))
}

func (a *API) cacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.session.Stats(r.Context()))
}

func (a *API) cachedPage(w http.ResponseWriter, r *http.Request) {
	selection, ok := a.querySelection(w, r, false)
	if !ok {
		return
	}
	key, err := a.session.CurrentPageKey()
	if err != nil {
		a.writeSessionError(w, err)
		return
	}
	entry, err := a.session.CachedPage(r.Context())
	if err != nil {
		a.writeSessionError(w, err)
		return
	}
	resp := pageCacheResponse{
		Key:         key,
		Entry:       entry,
		HasDetected: a.session.HasDetectedBoxesCache(r.Context()),
	}
	if len(selection) > 0 {
		resp.HasAnalysis = a.session.HasAnalysisCache(r.Context(), selection)
		resp.HasTranslation = a.session.HasTranslationCache(r.Context(), selection)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) clearAll(w http.ResponseWriter, r *http.Request) {
	a.session.ClearAllCaches(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) clearPages(w http.ResponseWriter, r *http.Request) {
	match := strings.TrimSpace(r.URL.Query().Get("match"))
	if match == "" {
		a.session.ClearAllPageCache(r.Context())
		w.WriteHeader(http.StatusNoContent)
		return
	}
	removed, err := a.session.ClearPagesMatching(r.Context(), match)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if removed == nil {
		removed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (a *API) clearPage(w http.ResponseWriter, r *http.Request) {
	a.respondNoContent(w, a.session.ClearCurrentPageCache(r.Context()))
}

func (a *API) clearDetected(w http.ResponseWriter, r *http.Request) {
	a.respondNoContent(w, a.session.ClearDetectedBoxesCache(r.Context()))
}

func (a *API) clearAnalysis(w http.ResponseWriter, r *http.Request) {
	selection, ok := a.querySelection(w, r, true)
	if !ok {
		return
	}
	a.respondNoContent(w, a.session.ClearAnalysisCache(r.Context(), selection))
}

func (a *API) clearTranslation(w http.ResponseWriter, r *http.Request) {
	selection, ok := a.querySelection(w, r, true)
	if !ok {
		return
	}
	a.respondNoContent(w, a.session.ClearTranslationCache(r.Context(), selection))
}

func (a *API) getWord(w http.ResponseWriter, r *http.Request) {
	data, ok := a.session.LookupWord(r.Context(), r.PathValue("word"))
	if !ok {
		a.writeError(w, http.StatusNotFound, fmt.Errorf("word %q not cached", r.PathValue("word")))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *API) putWord(w http.ResponseWriter, r *http.Request) {
	var data json.RawMessage
	if !a.decode(w, r, &data) {
		return
	}
	if err := a.session.StoreWord(r.Context(), r.PathValue("word"), data); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deleteWord(w http.ResponseWriter, r *http.Request) {
	if !a.session.ClearWord(r.Context(), r.PathValue("word")) {
		a.writeError(w, http.StatusNotFound, fmt.Errorf("word %q not cached", r.PathValue("word")))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) clearWords(w http.ResponseWriter, r *http.Request) {
	a.session.ClearAllWords(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(into); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func (a *API) pathIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid index %q", r.PathValue("index")))
		return 0, false
	}
	return index, true
}

func (a *API) querySelection(w http.ResponseWriter, r *http.Request, required bool) ([]int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("selection"))
	if raw == "" {
		if required {
			a.writeError(w, http.StatusBadRequest, session.ErrNoSelection)
			return nil, false
		}
		return nil, true
	}
	selection, err := address.ParseSelection(raw)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	return selection, true
}

// respond writes the state on success or maps err to a status code.
func (a *API) respond(w http.ResponseWriter, err error) {
	if err != nil {
		a.writeSessionError(w, err)
		return
	}
	a.writeState(w)
}

func (a *API) respondNoContent(w http.ResponseWriter, err error) {
	if err != nil {
		a.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) writeState(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, stateResponse{State: a.session.Snapshot()})
}

func (a *API) writeSessionError(w http.ResponseWriter, err error) {
	a.writeError(w, statusFor(err), err)
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", slog.Any("error", err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNoPage):
		return http.StatusConflict
	case errors.Is(err, session.ErrPageOutOfRange), errors.Is(err, session.ErrBoxOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNoSelection), errors.Is(err, session.ErrEmptyWord),
		errors.Is(err, session.ErrTokenOutOfRange), errors.Is(err, address.ErrInvalidKey):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
