package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/evidencije/coursework-api/internal/models"
	"github.com/evidencije/coursework-api/internal/service"
	appErrors "github.com/evidencije/coursework-api/pkg/errors"
	"github.com/evidencije/coursework-api/pkg/response"
)

// SubmissionHandler handles submission endpoints.
type SubmissionHandler struct {
	service   *service.SubmissionService
	export    *service.ExportService
	maxUpload int64
}

// NewSubmissionHandler constructs a submission handler. maxUpload bounds the
// accepted multipart file size in bytes; zero means 10 MiB.
func NewSubmissionHandler(svc *service.SubmissionService, export *service.ExportService, maxUpload int64) *SubmissionHandler {
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &SubmissionHandler{service: svc, export: export, maxUpload: maxUpload}
}

// Create godoc
// @Summary Submit work for an assignment
// @Description Accepts multipart form data with a file, or a JSON payload.
// @Tags Submissions
// @Accept mpfd
// @Accept json
// @Produce json
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /submissions [post]
func (h *SubmissionHandler) Create(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.SubmitRequest
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		req.AssignmentID = c.PostForm("assignment_id")
		header, err := c.FormFile("file")
		if err == nil {
			if header.Size > h.maxUpload {
				response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file too large"))
				return
			}
			file, err := header.Open()
			if err != nil {
				response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusInternalServerError, "failed to read upload"))
				return
			}
			defer file.Close() //nolint:errcheck
			data, err := io.ReadAll(io.LimitReader(file, h.maxUpload))
			if err != nil {
				response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusInternalServerError, "failed to read upload"))
				return
			}
			req.FileName = header.Filename
			req.FileData = data
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	submission, err := h.service.Submit(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, submission)
}

// List godoc
// @Summary List submissions within a scope
// @Description Scope defaults by role: mine for students, taught for professors, all for admins.
// @Tags Submissions
// @Produce json
// @Param scope query string false "mine | taught | all"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /submissions [get]
func (h *SubmissionHandler) List(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	scope := models.SubmissionScope(c.Query("scope"))
	if scope == "" {
		scope = service.DefaultScope(actor.Role)
	}

	submissions, err := h.service.List(c.Request.Context(), actor, scope)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submissions, nil)
}

// Get godoc
// @Summary Get submission by id
// @Tags Submissions
// @Produce json
// @Param id path string true "Submission ID"
// @Success 200 {object} response.Envelope
// @Router /submissions/{id} [get]
func (h *SubmissionHandler) Get(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	submission, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submission, nil)
}

// Update godoc
// @Summary Grade or relabel a submission
// @Description Partial update; only supplied fields change. An explicit null grade clears it.
// @Tags Submissions
// @Accept json
// @Produce json
// @Param id path string true "Submission ID"
// @Param payload body service.GradePatch true "Patch payload"
// @Success 200 {object} response.Envelope
// @Router /submissions/{id} [put]
func (h *SubmissionHandler) Update(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var patch service.GradePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	submission, err := h.service.Grade(c.Request.Context(), actor, c.Param("id"), patch)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submission, nil)
}

// Delete godoc
// @Summary Withdraw a submission
// @Tags Submissions
// @Produce json
// @Param id path string true "Submission ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /submissions/{id} [delete]
func (h *SubmissionHandler) Delete(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Withdraw(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Download godoc
// @Summary Download the submitted file
// @Tags Submissions
// @Produce octet-stream
// @Param id path string true "Submission ID"
// @Success 200
// @Failure 404 {object} response.Envelope
// @Router /submissions/{id}/file [get]
func (h *SubmissionHandler) Download(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	path, err := h.service.FetchFile(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.FileAttachment(path, path[strings.LastIndex(path, "/")+1:])
}

// Export godoc
// @Summary Export submissions as CSV or PDF
// @Tags Submissions
// @Produce octet-stream
// @Param format query string false "csv | pdf"
// @Success 200
// @Failure 403 {object} response.Envelope
// @Router /submissions/export [get]
func (h *SubmissionHandler) Export(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	file, err := h.export.Submissions(c.Request.Context(), actor, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+file.FileName+`"`)
	c.Data(http.StatusOK, file.ContentType, file.Content)
}
