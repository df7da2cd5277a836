package handler

import (
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/scoreleaf/api/internal/model"
	"github.com/scoreleaf/api/internal/service"
	"github.com/scoreleaf/api/internal/store"
	"github.com/scoreleaf/api/pkg/response"
)

type TranscribeHandler struct {
	service   *service.TranscriptionService
	validator *validator.Validate
}

func NewTranscribeHandler(svc *service.TranscriptionService, v *validator.Validate) *TranscribeHandler {
	return &TranscribeHandler{
		service:   svc,
		validator: v,
	}
}

// Submit handles POST /api/transcriptions
func (h *TranscribeHandler) Submit(c *fiber.Ctx) error {
	var req model.TranscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Submit(c.Context(), &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/transcriptions/:jobId
func (h *TranscribeHandler) Status(c *fiber.Ctx) error {
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

// Cancel handles POST /api/transcriptions/:jobId/cancel
func (h *TranscribeHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Cancel(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		if errors.Is(err, store.ErrConflict) {
			return response.ValidationError(c, "Job already finished", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

func formatValidationErrors(err error) []fiber.Map {
	var details []fiber.Map
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			details = append(details, fiber.Map{
				"field": fe.Field(),
				"rule":  fe.Tag(),
			})
		}
	}
	return details
}
