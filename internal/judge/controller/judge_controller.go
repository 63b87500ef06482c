package controller

import (
	commonmw "arenaoj/internal/common/http/middleware"
	"arenaoj/internal/judge/model"
	"arenaoj/internal/judge/service"
	"arenaoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// JudgeController handles submission and queue requests.
type JudgeController struct {
	svc *service.Service
}

// NewJudgeController creates a new controller.
func NewJudgeController(svc *service.Service) *JudgeController {
	return &JudgeController{svc: svc}
}

// SubmitRequest is the body of POST /submissions. SubmitterID falls back to
// the X-User-Id header.
type SubmitRequest struct {
	ProblemID   string `json:"problem_id" binding:"required"`
	SubmitterID string `json:"submitter_id"`
	Language    string `json:"language" binding:"required"`
	SourceCode  string `json:"source_code" binding:"required"`
}

// SubmitResponse acknowledges a queued submission.
type SubmitResponse struct {
	SubmissionID string       `json:"submission_id"`
	Status       model.Status `json:"status"`
}

// StatusResponse is the polled view of one submission.
type StatusResponse struct {
	*model.Submission
	Progress string `json:"progress"`
}

// Submit enqueues a submission and returns without waiting for grading.
func (h *JudgeController) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if req.SubmitterID == "" {
		req.SubmitterID = commonmw.UserID(c)
	}
	id, err := h.svc.Submit(c.Request.Context(), service.SubmitRequest{
		ProblemID:   req.ProblemID,
		SubmitterID: req.SubmitterID,
		Language:    req.Language,
		SourceCode:  req.SourceCode,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, SubmitResponse{SubmissionID: id, Status: model.StatusQueued})
}

// GetStatus returns status and accumulated results for one submission.
func (h *JudgeController) GetStatus(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	sub, err := h.svc.GetStatus(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, StatusResponse{Submission: sub, Progress: sub.Progress()})
}

// GetQueue lists queued and running jobs.
func (h *JudgeController) GetQueue(c *gin.Context) {
	jobs, err := h.svc.GetQueueSnapshot(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"jobs": jobs, "count": len(jobs)})
}

// GetLanguages lists accepted language ids.
func (h *JudgeController) GetLanguages(c *gin.Context) {
	response.Success(c, gin.H{"languages": h.svc.Languages()})
}
