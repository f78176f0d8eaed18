package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stationquest/render-api/internal/model"
	"github.com/stationquest/render-api/internal/service"
	"github.com/stationquest/render-api/internal/store"
	"github.com/stationquest/render-api/pkg/response"
)

type RenderHandler struct {
	service   *service.RenderService
	validator *validator.Validate
}

func NewRenderHandler(svc *service.RenderService, v *validator.Validate) *RenderHandler {
	return &RenderHandler{
		service:   svc,
		validator: v,
	}
}

// Start handles POST /api/render
// @Summary      Enqueue render job
// @Description  Queue an asynchronous video render for a team's event run
// @Tags         Render
// @Accept       json
// @Produce      json
// @Param        request body model.RenderStartRequest true "Render request"
// @Success      202 {object} model.RenderStartResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/render [post]
func (h *RenderHandler) Start(c *fiber.Ctx) error {
	var req model.RenderStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.StartRender(c.Context(), &req)
	if err != nil {
		if errors.Is(err, store.ErrTemplateNotFound) {
			return response.NotFound(c, "Template not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/render/:jobId
// @Summary      Get render job status
// @Description  Get the current status and progress of a render job
// @Tags         Render
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.RenderStatusResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/render/{jobId} [get]
func (h *RenderHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Output handles GET /api/render/:jobId/output
// @Summary      Get render output URL
// @Description  Get a time-limited signed URL for a completed render's video
// @Tags         Render
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.RenderOutputResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/render/{jobId}/output [get]
func (h *RenderHandler) Output(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetOutputURL(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		if errors.Is(err, store.ErrInvalidState) {
			return response.InvalidState(c, "Job is not completed")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/render/:jobId/cancel
// @Summary      Cancel render job
// @Description  Cancel a render job that has not started processing
// @Tags         Render
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.RenderCancelResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/render/{jobId}/cancel [post]
func (h *RenderHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.CancelRender(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		if errors.Is(err, store.ErrInvalidState) {
			return response.InvalidState(c, "Job has already started or finished")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// ListForEvent handles GET /api/events/:eventId/renders
// @Summary      List render jobs for an event
// @Description  List every render job queued for an event, newest first
// @Tags         Render
// @Produce      json
// @Param        eventId path string true "Event ID"
// @Success      200 {object} model.RenderListResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/events/{eventId}/renders [get]
func (h *RenderHandler) ListForEvent(c *fiber.Ctx) error {
	eventID := c.Params("eventId")
	if eventID == "" {
		return response.ValidationError(c, "Event ID is required", nil)
	}

	result, err := h.service.ListForEvent(c.Context(), eventID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
