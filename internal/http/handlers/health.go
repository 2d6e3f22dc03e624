package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct{}

func NewHealthHandler() *HealthHandler { return &HealthHandler{} }

// GET /
func (h *HealthHandler) Root(c *gin.Context) {
	c.String(http.StatusOK, "Running")
}

// GET /is-alive
func (h *HealthHandler) IsAlive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alive": 1})
}
