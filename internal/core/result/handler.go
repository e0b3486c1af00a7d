package result

import (
	"bytes"
	"context"

	"github.com/gofiber/fiber/v2"

	"docwatch/internal/errs"
)

// JobChecker verifies job existence before listing results under it.
type JobChecker interface {
	Exists(ctx context.Context, id string) error
}

type Handler struct {
	svc  *Service
	jobs JobChecker
}

func NewHandler(svc *Service, jobs JobChecker) *Handler {
	return &Handler{svc: svc, jobs: jobs}
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(errs.HTTPStatus(err)).JSON(fiber.Map{"success": false, "error": err.Error()})
}

func (h *Handler) HandleList(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if err := h.jobs.Exists(c.Context(), jobID); err != nil {
		return fail(c, err)
	}
	f := Filter{
		KeywordID: c.Query("keyword"),
		Document:  c.Query("document"),
		Limit:     c.QueryInt("limit"),
		Offset:    c.QueryInt("offset"),
	}
	// Clamp before echoing the envelope so limit reflects what was served.
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > h.svc.maxPage {
		f.Limit = h.svc.maxPage
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	results, total, err := h.svc.List(c.Context(), jobID, f)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"results": results, "total": total, "limit": f.Limit, "offset": f.Offset})
}

func (h *Handler) HandleExport(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if err := h.jobs.Exists(c.Context(), jobID); err != nil {
		return fail(c, err)
	}
	var buf bytes.Buffer
	if err := h.svc.WriteCSV(c.Context(), &buf, jobID); err != nil {
		return fail(c, err)
	}
	c.Set(fiber.HeaderContentType, "text/csv")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="results-`+jobID+`.csv"`)
	return c.Send(buf.Bytes())
}
