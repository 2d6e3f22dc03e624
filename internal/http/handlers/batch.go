package handlers

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/imran1337/solid-prediction/internal/batch"
	"github.com/imran1337/solid-prediction/internal/http/response"
	"github.com/imran1337/solid-prediction/internal/platform/logger"
)

type BatchRunner interface {
	Start(ctx context.Context) error
	Status() batch.Status
	ResetLock(ctx context.Context) (bool, error)
}

type BatchHandler struct {
	log    *logger.Logger
	runner BatchRunner
}

func NewBatchHandler(log *logger.Logger, runner BatchRunner) *BatchHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &BatchHandler{log: log.With("handler", "BatchHandler"), runner: runner}
}

type batchResponse struct {
	Status bool   `json:"status"`
	Msg    string `json:"msg"`
}

// GET /process
func (h *BatchHandler) Process(c *gin.Context) {
	err := h.runner.Start(c.Request.Context())
	switch {
	case err == nil:
		response.RespondOK(c, batchResponse{Status: true, Msg: "Indexing process has been initiated."})
	case errors.Is(err, batch.ErrAlreadyRunning):
		h.log.Info("Batch rejected", "reason", err)
		response.RespondOK(c, batchResponse{Status: false, Msg: "Indexing process is already in progress."})
	default:
		h.log.Error("Batch start failed", "error", err)
		response.RespondOK(c, batchResponse{Status: false, Msg: "Error in Indexing Process"})
	}
}

// GET /process/status
func (h *BatchHandler) ProcessStatus(c *gin.Context) {
	response.RespondOK(c, h.runner.Status())
}

// GET /reset-lock
func (h *BatchHandler) ResetLock(c *gin.Context) {
	if _, err := h.runner.ResetLock(c.Request.Context()); err != nil {
		h.log.Error("Lock reset failed", "error", err)
		response.RespondOK(c, batchResponse{Status: false, Msg: "Error resetting Redis: " + err.Error()})
		return
	}
	response.RespondOK(c, batchResponse{Status: true, Msg: "Redis reset successful."})
}
