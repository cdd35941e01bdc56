package router

import (
	"FetchVault/internal/handler"
	"FetchVault/utils"

	"github.com/gin-gonic/gin"
)

// InitRouter builds API routes.
func InitRouter() *gin.Engine {
	r := gin.Default()
	r.Use(utils.CORSMiddleware())

	api := r.Group("/api")
	{
		task := api.Group("/tasks")
		{
			task.POST("", handler.SubmitTask)
			task.GET("", handler.ListTasks)
			task.GET("/:id", handler.GetTask)
			task.POST("/:id/select", handler.SelectTaskFiles)
			task.POST("/:id/cancel", handler.CancelTask)
			task.POST("/:id/stream-token", handler.CreateStreamToken)
			task.GET("/:id/events", handler.StreamTaskEvents)
		}

		ops := api.Group("/ops")
		ops.Use(utils.WorkerKeyMiddleware())
		{
			ops.GET("/status", handler.OpsStatus)
			ops.DELETE("/tasks/:id", handler.PurgeTask)
		}
	}
	return r
}
