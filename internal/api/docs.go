package api

import (
	"net/http"
)

// @Title: List Docs
// @Route: GET /api/docs
// @Description: Lists the operator documentation pages
// @Response: ["api.adoc", "operations.adoc"]
func (s *Service) HandleDocsList(w http.ResponseWriter, r *http.Request) {
	if s.docs == nil {
		s.writeError(w, http.StatusNotFound, "Documentation is not enabled")
		return
	}
	list, err := s.docs.ListDocs()
	if err != nil {
		s.logger.Error("list docs", "err", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to list docs")
		return
	}
	if list == nil {
		list = []string{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

// @Title: Get Doc
// @Route: GET /api/docs/{name}
// @Description: Renders one documentation page to HTML
// @Response: text/html fragment
func (s *Service) HandleDoc(w http.ResponseWriter, r *http.Request) {
	if s.docs == nil {
		s.writeError(w, http.StatusNotFound, "Documentation is not enabled")
		return
	}
	html, err := s.docs.GetDoc(r.Context(), r.PathValue("name"))
	if err != nil {
		status := StatusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("render doc", "name", r.PathValue("name"), "err", err)
		}
		s.writeError(w, status, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(html))
}
