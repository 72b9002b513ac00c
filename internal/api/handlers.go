package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sbir-solicitations/internal/grants"
)

// listSolicitations handles GET /v1/solicitations?limit=&offset=. It returns
// a JSON array ordered by id, or 400 for an invalid window.
func (s *Server) listSolicitations(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	sols, err := s.catalog.ListSolicitations(ctx, page)
	if err != nil {
		s.internalError(w, "list solicitations failed", err)
		return
	}
	writeJSON(w, http.StatusOK, sols)
}

// getSolicitation handles GET /v1/solicitations/{id}. It returns the row,
// 400 for a malformed id, or 404 when the store reports grants.ErrNotFound.
func (s *Server) getSolicitation(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"), "id")
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	sol, err := s.catalog.GetSolicitation(ctx, id)
	if err != nil {
		if errors.Is(err, grants.ErrNotFound) {
			writeError(w, http.StatusNotFound, "solicitation not found")
			return
		}
		s.internalError(w, "get solicitation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, sol)
}

// searchSolicitations handles GET /v1/solicitations/search with optional
// keywords (title substring, case-insensitive), agency (exact), and id.
func (s *Server) searchSolicitations(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	id, err := parseID(q.Get("id"), "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := grants.SolicitationFilter{
		Page:     page,
		ID:       id,
		Keywords: strings.TrimSpace(q.Get("keywords")),
		Agency:   strings.TrimSpace(q.Get("agency")),
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	sols, err := s.catalog.SearchSolicitations(ctx, filter)
	if err != nil {
		s.internalError(w, "search solicitations failed", err)
		return
	}
	writeJSON(w, http.StatusOK, sols)
}

// searchTopics handles GET /v1/topics/search with optional id,
// solicitation_fk, keywords (title substring), and agency (of the parent).
func (s *Server) searchTopics(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	id, err := parseID(q.Get("id"), "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	parent, err := parseID(q.Get("solicitation_fk"), "solicitation_fk")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := grants.TopicFilter{
		Page:           page,
		ID:             id,
		SolicitationFK: parent,
		Keywords:       strings.TrimSpace(q.Get("keywords")),
		Agency:         strings.TrimSpace(q.Get("agency")),
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	topics, err := s.catalog.SearchTopics(ctx, filter)
	if err != nil {
		s.internalError(w, "search topics failed", err)
		return
	}
	writeJSON(w, http.StatusOK, topics)
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// parsePage reads limit and offset. Absent values take the defaults; the
// limit is capped at grants.MaxLimit.
func parsePage(r *http.Request) (grants.Page, error) {
	q := r.URL.Query()
	page := grants.Page{Limit: grants.DefaultLimit}
	if raw := q.Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 0 {
			return grants.Page{}, errors.New("invalid limit")
		}
		page.Limit = val
	}
	if raw := q.Get("offset"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 0 {
			return grants.Page{}, errors.New("invalid offset")
		}
		page.Offset = val
	}
	return page.Normalize(), nil
}

// parseID accepts an empty value as "no filter" and otherwise requires a
// positive integer.
func parseID(raw, name string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}
