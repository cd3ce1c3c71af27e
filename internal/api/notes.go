package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/pouch/internal/datetime"
	"github.com/kalambet/pouch/internal/importer"
	"github.com/kalambet/pouch/internal/notes"
	"github.com/kalambet/pouch/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxImportBodySize = 14 << 20 // base64 of importer.MaxFileSize

// NoteRequest is the body of POST /notes and PUT /notes/{id}. With Type
// "file", Content holds base64 file bytes and Name selects the format.
type NoteRequest struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// NoteResponse is a note as served over HTTP. Timestamp is in the server's
// local zone; TimestampUTC is the stored value.
type NoteResponse struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	Timestamp    string `json:"timestamp"`
	TimestampUTC string `json:"timestamp_utc"`
}

type NotesDeps struct {
	Repo      *notes.Repository
	Token     string
	Formatter datetime.Formatter
	Logger    *slog.Logger
}

// NewNotesHandler routes the notes API. Everything but /health requires the
// bearer token when one is configured.
func NewNotesHandler(deps NotesDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger(deps.Logger))

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/notes", handleListNotes(deps))
		r.Get("/notes/stream", handleStreamNotes(deps))
		r.Post("/notes", handleCreateNote(deps))
		r.Get("/notes/{id}", handleGetNote(deps))
		r.Put("/notes/{id}", handleUpdateNote(deps))
		r.Delete("/notes/{id}", handleDeleteNote(deps))

		r.Get("/zone", handleGetZone(deps))
		r.Post("/zone/toggle", handleToggleZone(deps))

		r.Get("/sort-option", handleGetSortOption(deps))
		r.Put("/sort-option", handlePutSortOption(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func toResponse(f datetime.Formatter, n storage.Note) NoteResponse {
	return NoteResponse{
		ID:           n.ID,
		Title:        n.Title,
		Body:         n.Body,
		Timestamp:    f.Format(datetime.UTCToLocal, n.Timestamp),
		TimestampUTC: n.Timestamp,
	}
}

func toResponses(f datetime.Formatter, ns []storage.Note) []NoteResponse {
	out := make([]NoteResponse, len(ns))
	for i, n := range ns {
		out[i] = toResponse(f, n)
	}
	return out
}

// queryFromRequest reads ?sort= and ?q=. Without ?sort= the stored option for
// the active zone applies.
func queryFromRequest(deps NotesDeps, r *http.Request) (storage.Query, error) {
	q := storage.Query{Search: r.URL.Query().Get("q")}

	if raw := r.URL.Query().Get("sort"); raw != "" {
		o, err := storage.ParseSortOption(raw)
		if err != nil {
			return storage.Query{}, err
		}
		q.Sort = o
		return q, nil
	}

	o, err := deps.Repo.SortOption(r.Context(), deps.Repo.CurrentZone())
	if err != nil {
		LoggerFromContext(r.Context()).Warn("reading stored sort option", "error", err)
	}
	q.Sort = o
	return q, nil
}

func noteID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid note id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func handleListNotes(deps NotesDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := queryFromRequest(deps, r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		list, err := deps.Repo.Fetch(r.Context(), q)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list notes: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, toResponses(deps.Formatter, list))
	}
}

// handleStreamNotes serves a listing as server-sent events: one "notes" event
// now and another after every committed write to the zone.
func handleStreamNotes(deps NotesDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		q, err := queryFromRequest(deps, r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		var sub *storage.Subscription[[]storage.Note]
		if q.Search == "" {
			sub = deps.Repo.ListAll(r.Context(), q.Sort)
		} else {
			sub = deps.Repo.Search(r.Context(), q.Search, q.Sort)
		}
		defer sub.Close()

		logger := LoggerFromContext(r.Context()).With("subscription", sub.ID)
		logger.Debug("note stream opened")

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for list := range sub.C() {
			payload, err := json.Marshal(toResponses(deps.Formatter, list))
			if err != nil {
				logger.Error("encoding note stream event", "error", err)
				return
			}
			fmt.Fprintf(w, "event: notes\ndata: %s\n\n", payload)
			flusher.Flush()
		}

		if err := sub.Err(); err != nil {
			logger.Warn("note stream ended", "error", err)
			fmt.Fprintf(w, "event: error\ndata: %q\n\n", err.Error())
			flusher.Flush()
		}
	}
}

func handleCreateNote(deps NotesDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		defer r.Body.Close()

		var req NoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Type == "" {
			req.Type = "text"
		}

		var candidate storage.Note
		switch req.Type {
		case "file":
			if req.Content == "" || req.Name == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "name and content are required for file notes")
				return
			}
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			candidate, err = importer.FromBytes(req.Name, decoded)
			if err != nil {
				httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "could not import %s: %v", req.Name, err)
				return
			}
			if req.Title != "" {
				candidate.Title = req.Title
			}
		case "text":
			candidate = storage.Note{Title: req.Title, Body: req.Body}
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown note type %q", req.Type)
			return
		}

		id, err := deps.Repo.Create(r.Context(), candidate)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create note: %v", err)
			return
		}
		LoggerFromContext(r.Context()).Info("note created", "id", id, "zone", deps.Repo.CurrentZone().String())

		writeJSON(w, http.StatusCreated, map[string]any{"id": id})
	}
}

func handleGetNote(deps NotesDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := noteID(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		n, ok, err := deps.Repo.GetByID(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get note: %v", err)
			return
		}
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "note not found")
			return
		}

		writeJSON(w, http.StatusOK, toResponse(deps.Formatter, n))
	}
}

// handleUpdateNote replaces a note. An unknown id is accepted and changes
// nothing.
func handleUpdateNote(deps NotesDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := noteID(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req NoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if err := deps.Repo.Update(r.Context(), storage.Note{ID: id, Title: req.Title, Body: req.Body}); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update note: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

// handleDeleteNote removes a note. An unknown id is accepted and changes
// nothing.
func handleDeleteNote(deps NotesDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := noteID(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		if err := deps.Repo.Delete(r.Context(), storage.Note{ID: id}); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete note: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleGetZone(deps NotesDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"zone": deps.Repo.CurrentZone().String()})
	}
}

func handleToggleZone(deps NotesDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		z := deps.Repo.ToggleZone()
		writeJSON(w, http.StatusOK, map[string]string{"zone": z.String()})
	}
}

type sortOptionBody struct {
	Zone       string `json:"zone,omitempty"`
	SortOption string `json:"sort_option"`
}

// zoneParam resolves an explicit zone name, defaulting to the active zone.
func zoneParam(deps NotesDeps, raw string) (storage.Zone, error) {
	if raw == "" {
		return deps.Repo.CurrentZone(), nil
	}
	return storage.ParseZone(raw)
}

func handleGetSortOption(deps NotesDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		zone, err := zoneParam(deps, r.URL.Query().Get("zone"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		o, err := deps.Repo.SortOption(r.Context(), zone)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read sort option: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, sortOptionBody{Zone: zone.String(), SortOption: o.String()})
	}
}

func handlePutSortOption(deps NotesDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req sortOptionBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		zone, err := zoneParam(deps, req.Zone)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		o, err := storage.ParseSortOption(req.SortOption)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		if err := deps.Repo.SaveSortOption(r.Context(), o, zone); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save sort option: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, sortOptionBody{Zone: zone.String(), SortOption: o.String()})
	}
}
