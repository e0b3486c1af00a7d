package storage

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"docwatch/internal/errs"
)

// JobChecker verifies job existence before a targeted cleanup.
type JobChecker interface {
	Exists(ctx context.Context, id string) error
}

type Handler struct {
	mgr  *Manager
	jobs JobChecker
}

func NewHandler(mgr *Manager, jobs JobChecker) *Handler {
	return &Handler{mgr: mgr, jobs: jobs}
}

func isAdmin(c *fiber.Ctx) bool { return c.Get("X-User-Role") == "admin" }

// HandleStats reports per-bucket usage. Admin only.
func (h *Handler) HandleStats(c *fiber.Ctx) error {
	if !isAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"success": false, "error": "admin only"})
	}
	stats, err := h.mgr.Stats()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(stats)
}

// HandleCleanup deletes a job's stored files on demand. Admin only.
func (h *Handler) HandleCleanup(c *fiber.Ctx) error {
	if !isAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"success": false, "error": "admin only"})
	}
	jobID := c.Params("id")
	if err := h.jobs.Exists(c.Context(), jobID); err != nil {
		return c.Status(errs.HTTPStatus(err)).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	counts, err := h.mgr.Cleanup(jobID, c.QueryBool("include_artifacts"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(counts)
}
