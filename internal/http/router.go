package http

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/imran1337/solid-prediction/internal/http/handlers"
	httpMW "github.com/imran1337/solid-prediction/internal/http/middleware"
	"github.com/imran1337/solid-prediction/internal/observability"
	"github.com/imran1337/solid-prediction/internal/platform/logger"
)

const DefaultBuilderName = "annoy-indexer"

type RouterConfig struct {
	Log *logger.Logger
	// Builder prefixes the task routes, e.g. /annoy-indexer/setup/...
	Builder     string
	ServiceName string
	CORSOrigins []string
	Metrics     *observability.Metrics

	IndexerHandler *httpH.IndexerHandler
	BatchHandler   *httpH.BatchHandler
	PartsHandler   *httpH.PartsHandler
	HealthHandler  *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.CORSOrigins))
	r.Use(httpMW.Metrics(cfg.Metrics))

	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/", cfg.HealthHandler.Root)
		r.GET("/is-alive", cfg.HealthHandler.IsAlive)
	}

	builder := strings.Trim(strings.TrimSpace(cfg.Builder), "/")
	if builder == "" {
		builder = DefaultBuilderName
	}
	if cfg.IndexerHandler != nil {
		g := r.Group("/" + builder)
		g.GET("/setup/:vendor/:category", cfg.IndexerHandler.Setup)
		g.POST("/setup", cfg.IndexerHandler.SetupNames)
		g.GET("/status/:id", cfg.IndexerHandler.Status)
		g.GET("/remove/:id", cfg.IndexerHandler.Remove)
		g.GET("/cancel/:id", cfg.IndexerHandler.Cancel)
	}

	// Batch
	if cfg.BatchHandler != nil {
		r.GET("/process", cfg.BatchHandler.Process)
		r.GET("/process/status", cfg.BatchHandler.ProcessStatus)
		r.GET("/reset-lock", cfg.BatchHandler.ResetLock)
		r.GET("/reset-redis", cfg.BatchHandler.ResetLock)
	}

	if cfg.PartsHandler != nil {
		r.POST("/find-matching-part", cfg.PartsHandler.FindMatching)
		r.POST("/get-preset-file", cfg.PartsHandler.PresetFile)
		r.POST("/get-img-file", cfg.PartsHandler.ImageFile)
	}

	return r
}
