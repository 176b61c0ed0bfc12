package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/yungbote/planforge-backend/internal/http/handlers"
	httpMW "github.com/yungbote/planforge-backend/internal/http/middleware"
)

type RouterConfig struct {
	TaskHandler   *httpH.TaskHandler
	FileHandler   *httpH.FileHandler
	SearchHandler *httpH.SearchHandler
	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(httpMW.AttachRequestContext())
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	api.Use(httpMW.RequireUser())
	{
		if cfg.TaskHandler != nil {
			api.POST("/tasks", cfg.TaskHandler.Create)
			api.GET("/tasks", cfg.TaskHandler.List)
			api.GET("/tasks/:id", cfg.TaskHandler.Get)
			api.POST("/tasks/:id/modify", cfg.TaskHandler.Modify)
			api.GET("/tasks/:id/logs", cfg.TaskHandler.Logs)
		}
		if cfg.FileHandler != nil {
			api.POST("/files", cfg.FileHandler.Upload)
			api.GET("/files", cfg.FileHandler.List)
			api.GET("/files/:id", cfg.FileHandler.Get)
			api.DELETE("/files/:id", cfg.FileHandler.Delete)
			api.GET("/rag/stats", cfg.FileHandler.Stats)
		}
		if cfg.SearchHandler != nil {
			api.POST("/search", cfg.SearchHandler.Search)
		}
	}
	return r
}
