package handler

import (
	"FetchVault/config"
	"FetchVault/internal/dto"
	"FetchVault/internal/service"
	"FetchVault/model"
	"FetchVault/utils"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// SubmitTask accepts a content source and creates or reuses a task.
func SubmitTask(c *gin.Context) {
	var req dto.SubmitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.Mode == "" {
		req.Mode = model.ModeAuto
	}
	result, err := service.Submit(c.Request.Context(), req.SourceKind, req.Source, req.Mode, req.Label)
	if err != nil {
		var ve *service.ValidationError
		if errors.As(err, &ve) {
			utils.Fail(c, err)
			return
		}
		utils.FailStatus(c, http.StatusInternalServerError, err)
		return
	}
	utils.Success(c, dto.SubmitTaskResponse{
		TaskID: result.Task.ID,
		Status: result.Task.Status,
		Reused: result.Reused,
	})
}

// GetTask returns one task with its files.
func GetTask(c *gin.Context) {
	task, err := service.FindTask(c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			utils.FailStatus(c, http.StatusNotFound, err)
			return
		}
		utils.FailStatus(c, http.StatusInternalServerError, err)
		return
	}
	utils.Success(c, dto.FromTask(task))
}

// ListTasks returns recent tasks, newest first.
func ListTasks(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	tasks, err := service.ListTasks(c.Query("status"), limit)
	if err != nil {
		utils.FailStatus(c, http.StatusInternalServerError, err)
		return
	}
	out := make([]dto.TaskResponse, 0, len(tasks))
	for i := range tasks {
		out = append(out, dto.FromTask(&tasks[i]))
	}
	utils.Success(c, out)
}

// SelectTaskFiles chooses which listed files of a select-mode task to
// download.
func SelectTaskFiles(c *gin.Context) {
	var req dto.SelectFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if err := service.SelectFiles(c.Request.Context(), c.Param("id"), req.FileIDs); err != nil {
		failServiceError(c, err)
		return
	}
	utils.Success(c, gin.H{"selected": len(req.FileIDs)})
}

// CancelTask requests cooperative cancellation.
func CancelTask(c *gin.Context) {
	if err := service.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		failServiceError(c, err)
		return
	}
	utils.Success(c, gin.H{"canceling": true})
}

// CreateStreamToken issues a short-lived token for the event stream of
// one task. EventSource cannot set headers, so streams authenticate by
// query parameter instead.
func CreateStreamToken(c *gin.Context) {
	taskID := c.Param("id")
	if _, err := service.FindTask(taskID); err != nil {
		failServiceError(c, err)
		return
	}
	token, err := utils.GenerateStreamToken(c.Request.Context(), taskID)
	if err != nil {
		utils.FailStatus(c, http.StatusInternalServerError, err)
		return
	}
	utils.Success(c, dto.StreamTokenResponse{
		Token:     token,
		ExpiresIn: int64(config.AppConfig.StreamTokenTTL.Seconds()),
	})
}

func failServiceError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrTaskNotFound) {
		utils.FailStatus(c, http.StatusNotFound, err)
		return
	}
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		utils.Fail(c, err)
		return
	}
	utils.FailStatus(c, http.StatusInternalServerError, err)
}
