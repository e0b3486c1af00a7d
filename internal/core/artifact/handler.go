package artifact

import (
	"github.com/gofiber/fiber/v2"

	"docwatch/internal/core/job"
	"docwatch/internal/errs"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

// HandleCreate triggers asynchronous ZIP generation for a finished job.
func (h *Handler) HandleCreate(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if err := h.svc.Enqueue(c.Context(), jobID); err != nil {
		return c.Status(errs.HTTPStatus(err)).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id":          jobID,
		"artifact_status": job.ArtifactGenerating,
	})
}
