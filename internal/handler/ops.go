package handler

import (
	"FetchVault/config"
	"FetchVault/internal/repo"
	"FetchVault/internal/service"
	"FetchVault/internal/storage"
	"FetchVault/model"
	"FetchVault/utils"
	"net/http"

	"github.com/gin-gonic/gin"
)

// PurgeTask applies the retention policy to one finished task: rows, disk
// data and the event topic all go.
func PurgeTask(c *gin.Context) {
	if err := service.DeleteTask(c.Request.Context(), c.Param("id")); err != nil {
		failServiceError(c, err)
		return
	}
	utils.Success(c, gin.H{"purged": true})
}

// OpsStatus reports storage headroom and queue depth for operators.
func OpsStatus(c *gin.Context) {
	free, err := storage.FreeBytes()
	if err != nil {
		utils.FailStatus(c, http.StatusInternalServerError, err)
		return
	}

	var byStatus []struct {
		Status string `json:"status"`
		Count  int64  `json:"count"`
	}
	if err := repo.Db.Model(&model.Task{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&byStatus).Error; err != nil {
		utils.FailStatus(c, http.StatusInternalServerError, err)
		return
	}

	var activeFiles int64
	if err := repo.Db.Model(&model.TaskFile{}).
		Where("state = ?", model.FileDownloading).
		Count(&activeFiles).Error; err != nil {
		utils.FailStatus(c, http.StatusInternalServerError, err)
		return
	}

	utils.Success(c, gin.H{
		"free_bytes":      free,
		"min_free_bytes":  config.AppConfig.MinFreeBytes,
		"active_files":    activeFiles,
		"global_max":      config.AppConfig.GlobalActiveMax,
		"tasks_by_status": byStatus,
	})
}
