package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/evidencije/coursework-api/internal/service"
	appErrors "github.com/evidencije/coursework-api/pkg/errors"
	"github.com/evidencije/coursework-api/pkg/response"
)

// CalendarHandler serves the merged deadline calendar.
type CalendarHandler struct {
	service *service.CalendarService
}

func NewCalendarHandler(svc *service.CalendarService) *CalendarHandler {
	return &CalendarHandler{service: svc}
}

// Deadlines godoc
// @Summary Upcoming deadlines and public holidays
// @Description Merges assignment due dates visible to the caller with the public holiday feed.
// @Tags Calendar
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /calendar/deadlines [get]
func (h *CalendarHandler) Deadlines(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	feed, err := h.service.Deadlines(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, feed, nil)
}
