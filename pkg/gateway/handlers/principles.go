package handlers

import (
	"net/http"

	"github.com/meetingmod/moderator/pkg/gateway/config"
	"github.com/meetingmod/moderator/pkg/principles"
)

// PrinciplesHandler serves /api/v1/principles.
type PrinciplesHandler struct {
	Config  config.Config
	Catalog *principles.Catalog
}

type principleDetail struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Content string   `json:"content"`
	Summary string   `json:"summary,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

func detail(p principles.Principle) principleDetail {
	return principleDetail{ID: p.ID, Name: p.Name, Content: p.Content, Summary: p.Summary, Tags: p.Tags}
}

func (h PrinciplesHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.Catalog.List()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []principles.Principle{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"principles": list})
}

func (h PrinciplesHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.Catalog.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail(p))
}

func (h PrinciplesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	}
	if err := requireJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.Catalog.Create(req.Name, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": p.ID, "name": p.Name, "filePath": p.FilePath})
}

// Update applies a partial update; omitted fields keep their value.
func (h PrinciplesHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    *string `json:"name"`
		Content *string `json:"content"`
	}
	if err := requireJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.Catalog.Update(r.PathValue("id"), req.Name, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail(p))
}

func (h PrinciplesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.Delete(r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
