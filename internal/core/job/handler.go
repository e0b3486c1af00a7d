package job

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"docwatch/internal/errs"
)

// StatsProvider supplies the result summary embedded in the job detail view.
type StatsProvider interface {
	JobStats(ctx context.Context, jobID string) (interface{}, error)
}

type Handler struct {
	svc   *Service
	stats StatsProvider
}

func NewHandler(svc *Service, stats StatsProvider) *Handler {
	return &Handler{svc: svc, stats: stats}
}

// CallerFrom reads the upstream-authenticated identity headers.
func CallerFrom(c *fiber.Ctx) Caller {
	userID := c.Get("X-User-ID")
	if userID == "" {
		userID = "anonymous"
	}
	return Caller{UserID: userID, Admin: c.Get("X-User-Role") == "admin"}
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(errs.HTTPStatus(err)).JSON(fiber.Map{"success": false, "error": err.Error()})
}

func (h *Handler) HandleCreate(c *fiber.Ctx) error {
	var req CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid body"})
	}
	j, err := h.svc.Create(c.Context(), CallerFrom(c), req)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"job_id": j.ID, "status": j.Status})
}

func (h *Handler) HandleList(c *fiber.Ctx) error {
	f := Filter{
		Status: c.Query("status"),
		Target: c.Query("target"),
		Limit:  c.QueryInt("limit"),
		Offset: c.QueryInt("offset"),
	}
	if f.Status != "" && !ValidStatus(f.Status) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "unknown status filter: " + f.Status})
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	jobs, total, err := h.svc.List(c.Context(), f)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"jobs": jobs, "total": total, "limit": f.Limit, "offset": f.Offset})
}

func (h *Handler) HandleGet(c *fiber.Ctx) error {
	id := c.Params("id")
	j, cfg, err := h.svc.Get(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	stats, err := h.stats.JobStats(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"job": j, "config": cfg, "stats": stats})
}

func (h *Handler) HandleStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	j, _, err := h.svc.Get(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"status":        j.Status,
		"progress":      h.svc.GetProgress(id),
		"error_message": j.ErrorMessage,
	})
}

func (h *Handler) HandleCancel(c *fiber.Ctx) error {
	if err := h.svc.RequestCancel(c.Context(), c.Params("id"), CallerFrom(c)); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
