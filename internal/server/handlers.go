package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/contract-cli/internal/evolution"
	"github.com/sells-group/contract-cli/internal/model"
	"github.com/sells-group/contract-cli/internal/orchestrator"
	"github.com/sells-group/contract-cli/internal/view"
)

type outcomeResponse struct {
	DocumentID string                      `json:"document_id,omitempty"`
	FileName   string                      `json:"file_name"`
	Status     model.DocumentStatus        `json:"status,omitempty"`
	Error      string                      `json:"error,omitempty"`
	ErrorKind  model.CollaboratorErrorKind `json:"error_kind,omitempty"`
	Terms      model.Terms                 `json:"terms,omitempty"`
	Suggestion *model.Suggestion           `json:"suggestion,omitempty"`
}

func toResponse(o orchestrator.Outcome) outcomeResponse {
	resp := outcomeResponse{
		DocumentID: o.DocumentID,
		FileName:   o.FileName,
		Status:     o.Status,
		Terms:      o.Terms,
		Suggestion: o.Suggestion,
	}
	if o.Err != nil {
		resp.Error = o.Err.Error()
		if ce, ok := model.AsCollaborator(o.Err); ok {
			resp.ErrorKind = ce.Kind
		}
	}
	return resp
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, eris.Wrapf(model.ErrValidation, "server: parse upload: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, eris.Wrap(model.ErrValidation, "server: no files in field \"files\""))
		return
	}

	files := make([]model.FileInput, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeError(w, eris.Wrapf(model.ErrValidation, "server: open %s: %v", fh.Filename, err))
			return
		}
		data, err := io.ReadAll(f)
		f.Close() //nolint:errcheck
		if err != nil {
			writeError(w, eris.Wrapf(model.ErrValidation, "server: read %s: %v", fh.Filename, err))
			return
		}
		files = append(files, model.FileInput{
			Name:     fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Data:     data,
		})
	}

	outcomes := sessionFrom(r).Upload(r.Context(), files)
	resp := make([]outcomeResponse, len(outcomes))
	for i, o := range outcomes {
		resp[i] = toResponse(o)
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": resp})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"documents": sessionFrom(r).Documents.List()})
}

func (s *Server) handleDrillDown(w http.ResponseWriter, r *http.Request) {
	detail, err := sessionFrom(r).View.DrillDown(chi.URLParam(r, "id"), chi.URLParam(r, "columnId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleListColumns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"columns": sessionFrom(r).Registry.ListColumns()})
}

func (s *Server) handleUpdateColumn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Visible *bool `json:"visible"`
		Order   *int  `json:"order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, eris.Wrapf(model.ErrValidation, "server: invalid request body: %v", err))
		return
	}
	if req.Visible == nil && req.Order == nil {
		writeError(w, eris.Wrap(model.ErrValidation, "server: visible or order is required"))
		return
	}

	sess := sessionFrom(r)
	id := chi.URLParam(r, "id")
	var (
		col model.Column
		err error
	)
	if req.Visible != nil {
		if col, err = sess.SetColumnVisibility(r.Context(), id, *req.Visible); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Order != nil {
		if col, err = sess.SetColumnOrder(r.Context(), id, *req.Order); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, col)
}

// parseQuery reads q, sort and dir. Without sort the click-cycled sort
// applies.
func parseQuery(r *http.Request) (view.Query, error) {
	v := r.URL.Query()
	q := view.Query{Search: v.Get("q")}
	col := v.Get("sort")
	if col == "" {
		return q, nil
	}
	dir := view.Direction(strings.ToLower(v.Get("dir")))
	switch dir {
	case "":
		dir = view.DirectionAsc
	case view.DirectionAsc, view.DirectionDesc:
	case "none":
		dir = view.DirectionNone
	default:
		return q, eris.Wrapf(model.ErrValidation, "server: dir must be asc, desc or none, got %q", dir)
	}
	q.Sort = &view.SortSpec{ColumnID: col, Direction: dir}
	return q, nil
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionFrom(r).View.Table(q))
}

func (s *Server) handleSortClick(w http.ResponseWriter, r *http.Request) {
	spec, err := sessionFrom(r).View.Click(chi.URLParam(r, "columnId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, "csv", "text/csv; charset=utf-8", (*view.Engine).ExportCSV)
}

func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", (*view.Engine).ExportXLSX)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request, ext, contentType string, write func(*view.Engine, io.Writer, view.Query) error) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+view.ExportFileName(s.nowFunc(), ext)+`"`)
	if err := write(sessionFrom(r).View, w, q); err != nil {
		writeError(w, err)
	}
}

type suggestionsResponse struct {
	State   evolution.State    `json:"state"`
	Pending *model.Suggestion  `json:"pending,omitempty"`
	Queued  []model.Suggestion `json:"queued"`
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	coord := sessionFrom(r).Evolution
	pending, state := coord.Pending()
	resp := suggestionsResponse{State: state, Queued: coord.Queued()}
	if state != evolution.StateIdle {
		resp.Pending = &pending
	}
	if resp.Queued == nil {
		resp.Queued = []model.Suggestion{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// candidateID reads the optional {"candidate_id": "..."} body that pins
// the suggestion being resolved.
func candidateID(r *http.Request) (string, error) {
	var req struct {
		CandidateID string `json:"candidate_id"`
	}
	if r.ContentLength == 0 {
		return "", nil
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		return "", eris.Wrapf(model.ErrValidation, "server: invalid request body: %v", err)
	}
	return req.CandidateID, nil
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id, err := candidateID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	coord := sessionFrom(r).Evolution
	var report evolution.BackfillReport
	if id == "" {
		report, err = coord.Accept(r.Context())
	} else {
		report, err = coord.AcceptCandidate(r.Context(), id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	id, err := candidateID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	coord := sessionFrom(r).Evolution
	if id == "" {
		err = coord.Dismiss()
	} else {
		err = coord.DismissCandidate(id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "dismissed", "state": coord.State()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r).Stats())
}
