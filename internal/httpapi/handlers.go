package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/mesh-intelligence/easel/pkg/types"
)

func (s *server) listCanvases(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.ListCanvases(r.Context(), owner(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out == nil {
		out = []types.CanvasSummary{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) createDefaultCanvas(w http.ResponseWriter, r *http.Request) {
	cv, err := s.svc.CreateDefaultCanvas(r.Context(), owner(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cv)
}

func (s *server) getCanvas(w http.ResponseWriter, r *http.Request) {
	cv, err := s.svc.GetCanvas(r.Context(), owner(r), chi.URLParam(r, "canvasID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cv)
}

func (s *server) deleteCanvas(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.DeleteCanvas(r.Context(), owner(r), chi.URLParam(r, "canvasID"))
	writeResult(w, r, res, err)
}

func (s *server) saveCanvas(w http.ResponseWriter, r *http.Request) {
	var req types.SaveRequest
	if err := decode(w, r, &req); err != nil {
		writeResult(w, r, types.Failed(req.SessionID, err), err)
		return
	}
	id := chi.URLParam(r, "canvasID")
	if req.ID != "" && req.ID != id {
		err := errors.Wrapf(types.ErrInvalidData, "body id %q does not match path id %q", req.ID, id)
		writeResult(w, r, types.Failed(req.SessionID, err), err)
		return
	}
	req.ID = id
	res, err := s.svc.Save(r.Context(), owner(r), req)
	writeResult(w, r, res, err)
}

func (s *server) resyncCanvas(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Resync(r.Context(), owner(r), chi.URLParam(r, "canvasID")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.OpResult{Success: true})
}

func (s *server) getMetadata(w http.ResponseWriter, r *http.Request) {
	md, err := s.svc.GetMetadata(r.Context(), owner(r), chi.URLParam(r, "canvasID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, md)
}

func (s *server) addNode(w http.ResponseWriter, r *http.Request) {
	var n types.Node
	if err := decode(w, r, &n); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.AddNode(r.Context(), owner(r), chi.URLParam(r, "canvasID"), n); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (s *server) updateNode(w http.ResponseWriter, r *http.Request) {
	var patch types.NodePatch
	if err := decode(w, r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := s.svc.UpdateNode(r.Context(), owner(r), chi.URLParam(r, "canvasID"), chi.URLParam(r, "nodeID"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *server) removeNode(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RemoveNode(r.Context(), owner(r), chi.URLParam(r, "canvasID"), chi.URLParam(r, "nodeID")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.OpResult{Success: true, Deleted: 1})
}

func (s *server) updateNodeMessages(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Messages []types.MessageEntry `json:"messages"`
	}
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.UpdateNodeMessages(r.Context(), owner(r), chi.URLParam(r, "canvasID"), chi.URLParam(r, "nodeID"), body.Messages); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.OpResult{Success: true})
}

func (s *server) listBackups(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, errors.Wrapf(types.ErrInvalidData, "limit %q", v))
			return
		}
		limit = n
	}
	out, err := s.svc.ListBackups(r.Context(), owner(r), chi.URLParam(r, "canvasID"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out == nil {
		out = []types.BackupSummary{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) createBackup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BackupType string `json:"backupType"`
	}
	if r.ContentLength != 0 {
		if err := decode(w, r, &body); err != nil {
			writeError(w, r, err)
			return
		}
	}
	bk, err := s.svc.CreateBackup(r.Context(), owner(r), chi.URLParam(r, "canvasID"), body.BackupType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bk.Summary())
}

func (s *server) getBackup(w http.ResponseWriter, r *http.Request) {
	bk, err := s.svc.GetBackup(r.Context(), owner(r), chi.URLParam(r, "backupID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bk)
}

func (s *server) restoreBackup(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Restore(r.Context(), owner(r), chi.URLParam(r, "canvasID"), chi.URLParam(r, "backupID"))
	writeResult(w, r, res, err)
}

func (s *server) pruneBackups(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.PruneBackups(r.Context(), owner(r), r.URL.Query().Get("canvasId"))
	writeResult(w, r, res, err)
}

func (s *server) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.svc.GetSettings(r.Context(), owner(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var settings types.Settings
	if err := decode(w, r, &settings); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.svc.UpdateSettings(r.Context(), owner(r), settings)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) listThreads(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.ListThreads(r.Context(), owner(r), chi.URLParam(r, "canvasID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out == nil {
		out = []types.ConversationThread{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) createThread(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	th, err := s.svc.CreateThread(r.Context(), owner(r), chi.URLParam(r, "canvasID"), body.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, th)
}

func (s *server) deleteThread(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.DeleteThread(r.Context(), owner(r), chi.URLParam(r, "threadID"))
	writeResult(w, r, res, err)
}

func (s *server) listCheckpoints(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.ListCheckpoints(r.Context(), owner(r), chi.URLParam(r, "threadID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out == nil {
		out = []types.ThreadCheckpoint{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) createCheckpoint(w http.ResponseWriter, r *http.Request) {
	var in types.CheckpointInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	cp, err := s.svc.CreateCheckpoint(r.Context(), owner(r), chi.URLParam(r, "threadID"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cp)
}

func (s *server) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := s.svc.GetCheckpoint(r.Context(), owner(r), chi.URLParam(r, "threadID"), chi.URLParam(r, "checkpointID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}
