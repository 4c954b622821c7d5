package webserver

import (
	"bytes"
	"net/http"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// handleArtifactPreview renders an artifact's markdown body to HTML for
// the front-end preview pane.
func (srv *Server) handleArtifactPreview(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")
	artifactID := r.PathValue("artifactID")

	s, err := srv.openStore(projectID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	defer s.Close()

	content, err := s.ReadArtifactContent(artifactID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		writeError(w, http.StatusInternalServerError, "rendering markdown: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}
