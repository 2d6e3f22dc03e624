package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/imran1337/solid-prediction/internal/http/response"
	"github.com/imran1337/solid-prediction/internal/indexer"
	"github.com/imran1337/solid-prediction/internal/platform/logger"
	"github.com/imran1337/solid-prediction/internal/tasks"
)

const resultNotCancellable = "id not found or not cancellable"

type TaskRegistry interface {
	Submit(key string, work tasks.WorkFunc) *tasks.Handle
	SubmitAnonymous(mk func(id string) tasks.WorkFunc) *tasks.Handle
	Status(key string) tasks.Status
	Remove(ctx context.Context, key string) (tasks.RemoveResult, error)
	Cancel(key string) bool
}

type IndexBuilder interface {
	Work(vc indexer.VendorCategory) tasks.WorkFunc
	NamesWork(names []string) func(id string) tasks.WorkFunc
	CheckDB(ctx context.Context, id string) bool
}

// URLSigner re-signs an archive link on every status read so a client never
// receives an expired URL.
type URLSigner interface {
	SignedURL(ctx context.Context, id string) (string, error)
}

type IndexerHandler struct {
	log      *logger.Logger
	registry TaskRegistry
	builder  IndexBuilder
	signer   URLSigner
}

func NewIndexerHandler(log *logger.Logger, registry TaskRegistry, builder IndexBuilder, signer URLSigner) *IndexerHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &IndexerHandler{
		log:      log.With("handler", "IndexerHandler"),
		registry: registry,
		builder:  builder,
		signer:   signer,
	}
}

type statusResponse struct {
	ID      string `json:"id"`
	Result  string `json:"result"`
	FileURL string `json:"fileUrl,omitempty"`
	Error   string `json:"error,omitempty"`
}

// GET /:builder/setup/:vendor/:category
func (h *IndexerHandler) Setup(c *gin.Context) {
	vc := indexer.VendorCategory{
		Vendor:   strings.TrimSpace(c.Param("vendor")),
		Category: strings.TrimSpace(c.Param("category")),
	}
	if !vc.Valid() {
		response.RespondError(c, http.StatusBadRequest, "invalid_vendor_category", errors.New("vendor and category are required"))
		return
	}
	if !h.builder.CheckDB(c.Request.Context(), vc.Key()) {
		response.RespondError(c, http.StatusInternalServerError, "db_unreachable", errors.New("DB not reachable"))
		return
	}
	t := h.registry.Submit(vc.Key(), h.builder.Work(vc))
	response.RespondOK(c, gin.H{"id": t.ID()})
}

type setupNamesRequest struct {
	Data []string `json:"data"`
}

// POST /:builder/setup
func (h *IndexerHandler) SetupNames(c *gin.Context) {
	var req setupNamesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	names := make([]string, 0, len(req.Data))
	for _, n := range req.Data {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		response.RespondError(c, http.StatusNotAcceptable, "nothing_to_index", indexer.ErrNothingToIndex)
		return
	}
	t := h.registry.SubmitAnonymous(h.builder.NamesWork(names))
	response.RespondOK(c, gin.H{"id": t.ID()})
}

// GET /:builder/status/:id
func (h *IndexerHandler) Status(c *gin.Context) {
	id := c.Param("id")
	st := h.registry.Status(id)
	out := statusResponse{ID: id, Result: st.State.String()}

	if st.State == tasks.StateDone {
		if st.Err != nil {
			out.Error = st.Err.Error()
			response.RespondOK(c, out)
			return
		}
		url, err := h.signer.SignedURL(c.Request.Context(), id)
		if err != nil || url == "" {
			h.log.Warn("Could not sign archive URL", "id", id, "error", err)
			c.String(http.StatusNotFound, "File not found")
			return
		}
		out.FileURL = url
	}
	response.RespondOK(c, out)
}

// GET /:builder/remove/:id
func (h *IndexerHandler) Remove(c *gin.Context) {
	id := c.Param("id")
	res, err := h.registry.Remove(c.Request.Context(), id)
	if err != nil {
		h.log.Error("Remove failed", "id", id, "error", err)
	}
	response.RespondOK(c, gin.H{"id": id, "result": res.String()})
}

// GET /:builder/cancel/:id
func (h *IndexerHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	result := tasks.StateCancelled.String()
	if !h.registry.Cancel(id) {
		result = resultNotCancellable
	}
	response.RespondOK(c, gin.H{"id": id, "result": result})
}
