package run

import (
	"errors"

	"harvester/internal/engine"

	"github.com/gofiber/fiber/v2"
)

type Handler struct {
	runs *Service
}

func NewHandler(runs *Service) *Handler {
	return &Handler{runs: runs}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type createResponse struct {
	Success bool   `json:"success"`
	RunID   string `json:"run_id"`
}

type okResponse struct {
	Success bool `json:"success"`
}

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(errorResponse{Success: false, Error: msg})
}

func (h *Handler) HandleCreateScrape(c *fiber.Ctx) error {
	var opts engine.Options
	if err := c.BodyParser(&opts); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid body")
	}
	id, err := h.runs.Enqueue(c.Context(), opts)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrAlreadyRunning):
			return fail(c, fiber.StatusConflict, err.Error())
		case errors.Is(err, ErrNoSources):
			return fail(c, fiber.StatusBadRequest, err.Error())
		default:
			return fail(c, fiber.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(createResponse{Success: true, RunID: id})
}

func (h *Handler) HandleGetScrape(c *fiber.Ctx) error {
	r, err := h.runs.Get(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, fiber.StatusNotFound, "not_found")
	}
	return c.JSON(r)
}

type confirmRequest struct {
	Proceed bool `json:"proceed"`
}

func (h *Handler) HandleConfirmScrape(c *fiber.Ctx) error {
	var req confirmRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid body")
	}
	err := h.runs.Confirm(c.Context(), c.Params("id"), req.Proceed)
	if err != nil {
		if errors.Is(err, engine.ErrNotWaiting) {
			return fail(c, fiber.StatusConflict, err.Error())
		}
		return fail(c, fiber.StatusNotFound, "not_found")
	}
	return c.JSON(okResponse{Success: true})
}

func (h *Handler) HandleStopScrape(c *fiber.Ctx) error {
	if err := h.runs.Stop(c.Context(), c.Params("id")); err != nil {
		return fail(c, fiber.StatusNotFound, "not_found")
	}
	return c.JSON(okResponse{Success: true})
}
