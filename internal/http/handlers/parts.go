package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imran1337/solid-prediction/internal/http/response"
	"github.com/imran1337/solid-prediction/internal/services"
)

type PartsHandler struct {
	parts services.PartsService
}

func NewPartsHandler(parts services.PartsService) *PartsHandler {
	return &PartsHandler{parts: parts}
}

type findMatchingRequest struct {
	Data []string `json:"data"`
}

type fileRequest struct {
	Data string `json:"data"`
}

// POST /find-matching-part
func (h *PartsHandler) FindMatching(c *gin.Context) {
	var req findMatchingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	out, err := h.parts.FindMatching(c.Request.Context(), req.Data)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// POST /get-preset-file
func (h *PartsHandler) PresetFile(c *gin.Context) {
	var req fileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	b, err := h.parts.PresetFile(c.Request.Context(), req.Data)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", b)
}

// POST /get-img-file
func (h *PartsHandler) ImageFile(c *gin.Context) {
	var req fileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	b, err := h.parts.ImageFile(c.Request.Context(), req.Data)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", b)
}
