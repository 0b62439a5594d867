package server

import (
	"net/http"
	"strconv"

	appsv1 "k8s.io/api/apps/v1"

	"github.com/skyhook-io/kubedash/internal/deploy"
	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
	"github.com/skyhook-io/kubedash/internal/rbac"
)

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	t, r, ok := s.authorize(w, r, rbac.VerbGet)
	if !ok {
		return
	}
	d, err := s.svc.GetDeployment(r.Context(), t)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	t, r, ok := s.authorize(w, r, rbac.VerbRestart)
	if !ok {
		return
	}
	result, err := s.svc.RestartDeployment(r.Context(), t)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleScale(w http.ResponseWriter, r *http.Request) {
	t, r, ok := s.authorize(w, r, rbac.VerbScale)
	if !ok {
		return
	}

	var req deploy.ScaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Replicas == nil {
		writeError(w, dasherrors.ValidationError("replicas is required"))
		return
	}

	result, err := s.svc.ScaleDeployment(r.Context(), t, *req.Replicas)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	t, r, ok := s.authorize(w, r, rbac.VerbEdit)
	if !ok {
		return
	}

	var doc appsv1.Deployment
	if err := decodeJSON(r, &doc); err != nil {
		writeError(w, err)
		return
	}

	updated, err := s.svc.EditDeployment(r.Context(), t, &doc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	t, r, ok := s.authorize(w, r, rbac.VerbRollback)
	if !ok {
		return
	}

	var req deploy.RollbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.svc.RollbackDeployment(r.Context(), t, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	t, r, ok := s.authorize(w, r, rbac.VerbRollback)
	if !ok {
		return
	}

	var req deploy.ReleaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.svc.SuspendRelease(r.Context(), t, req.ReleaseName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	t, r, ok := s.authorize(w, r, rbac.VerbRollback)
	if !ok {
		return
	}

	var req deploy.ReleaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.svc.ResumeRelease(r.Context(), t, req.ReleaseName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDetectHelmRelease(w http.ResponseWriter, r *http.Request) {
	t, r, ok := s.authorize(w, r, rbac.VerbGet)
	if !ok {
		return
	}
	det, err := s.svc.DetectHelmRelease(r.Context(), t)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, det)
}

func (s *Server) handleHelmHistory(w http.ResponseWriter, r *http.Request) {
	t, r, ok := s.authorize(w, r, rbac.VerbGet)
	if !ok {
		return
	}
	revisions, err := s.svc.HelmHistory(r.Context(), t, r.URL.Query().Get("release"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, revisions)
}

func (s *Server) handleHelmValues(w http.ResponseWriter, r *http.Request) {
	t, r, ok := s.authorize(w, r, rbac.VerbGet)
	if !ok {
		return
	}

	revision := 0
	if revStr := r.URL.Query().Get("revision"); revStr != "" {
		n, err := strconv.Atoi(revStr)
		if err != nil || n < 0 {
			writeError(w, dasherrors.ValidationError("invalid revision number"))
			return
		}
		revision = n
	}

	values, err := s.svc.HelmValues(r.Context(), t, r.URL.Query().Get("release"), revision)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

func (s *Server) handleFluxStatus(w http.ResponseWriter, r *http.Request) {
	t, r, ok := s.authorize(w, r, rbac.VerbGet)
	if !ok {
		return
	}
	st, err := s.svc.FluxStatus(r.Context(), t, r.URL.Query().Get("release"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleActionHistory(w http.ResponseWriter, r *http.Request) {
	t, r, ok := s.authorize(w, r, rbac.VerbGet)
	if !ok {
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 0 {
			writeError(w, dasherrors.ValidationError("invalid limit"))
			return
		}
		limit = n
	}

	records, err := s.svc.ActionHistory(r.Context(), t, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
