package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/snapetech/iptvguide/internal/sources"
)

func (s *Server) catalog(w http.ResponseWriter) (*sources.Catalog, bool) {
	if s.cfg.Catalog == nil {
		writeError(w, http.StatusNotFound, "source catalog disabled")
		return nil, false
	}
	return s.cfg.Catalog, true
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	c, ok := s.catalog(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.List())
}

func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	c, ok := s.catalog(w)
	if !ok {
		return
	}
	d, err := c.Get(mux.Vars(r)["id"])
	if err != nil {
		s.sourceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) addSource(w http.ResponseWriter, r *http.Request) {
	c, ok := s.catalog(w)
	if !ok {
		return
	}
	var d sources.Descriptor
	if err := decodeBody(r, &d); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := c.Add(r.Context(), d)
	if err != nil {
		s.sourceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) updateSource(w http.ResponseWriter, r *http.Request) {
	c, ok := s.catalog(w)
	if !ok {
		return
	}
	var d sources.Descriptor
	if err := decodeBody(r, &d); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := c.Update(r.Context(), mux.Vars(r)["id"], d)
	if err != nil {
		s.sourceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) removeSource(w http.ResponseWriter, r *http.Request) {
	c, ok := s.catalog(w)
	if !ok {
		return
	}
	if err := c.Remove(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.sourceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sourceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sources.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sources.ErrImmutable):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, sources.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error().Err(err).Msg("source catalog")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
