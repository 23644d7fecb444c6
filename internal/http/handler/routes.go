package handler

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"readfeed/internal/service"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// Handlers stay thin; everything domain-shaped lives in the service layer.
func RegisterRoutes(app *fiber.App, db *sql.DB, svc service.ReadingService) {
	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	users := app.Group("/users/:externalId")
	users.Post("/documents", UploadDocument(svc))
	users.Get("/documents", ListUserDocuments(svc))
	users.Post("/documents/:id/activate", ActivateDocument(svc))
	users.Get("/documents/:id/download", DownloadDocument(svc))
	users.Post("/next", NextFragment(svc))
	users.Get("/status", ReadingStatus(svc))
}

// HealthCheck verifies DB connectivity.
func HealthCheck(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe is a simple liveness probe with no dependency checks.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// UploadDocument ingests a document for a user (multipart/form-data, field
// name: file). The uploaded document becomes the user's active one.
func UploadDocument(svc service.ReadingService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		externalID := c.Params("externalId")

		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "file is required")
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		displayName := c.FormValue("display_name")

		doc, err := svc.Ingest(c.UserContext(), externalID, displayName, fh.Filename, f)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(doc)
	}
}

// ListUserDocuments returns all documents a user has uploaded, newest first.
func ListUserDocuments(svc service.ReadingService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		externalID := c.Params("externalId")

		docs, err := svc.ListDocuments(c.UserContext(), externalID)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(docs)
	}
}

// ActivateDocument switches the user's reading to the given document. The
// cursor of the newly active document is wherever it was left.
func ActivateDocument(svc service.ReadingService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		externalID := c.Params("externalId")
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}

		doc, err := svc.ActivateDocument(c.UserContext(), externalID, id)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(doc)
	}
}

// DownloadDocument returns a short-lived presigned URL for the archived
// original upload.
func DownloadDocument(svc service.ReadingService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		externalID := c.Params("externalId")
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}

		url, err := svc.DownloadURL(c.UserContext(), externalID, id)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(fiber.Map{"url": url})
	}
}

// NextFragment advances the user's cursor and returns the next reading
// fragment of the active document.
func NextFragment(svc service.ReadingService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		externalID := c.Params("externalId")

		frag, err := svc.Advance(c.UserContext(), externalID)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(frag)
	}
}

// ReadingStatus reports progress through the active document without moving
// the cursor.
func ReadingStatus(svc service.ReadingService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		externalID := c.Params("externalId")

		st, err := svc.Status(c.UserContext(), externalID)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(st)
	}
}

// writeServiceError translates service sentinel errors into the standard
// error envelope.
func writeServiceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrExternalIDRequired):
		return writeError(c, fiber.StatusBadRequest, "EXTERNAL_ID_REQUIRED", "external id is required")
	case errors.Is(err, service.ErrUnsupportedFormat):
		return writeError(c, fiber.StatusBadRequest, "UNSUPPORTED_FORMAT", "unsupported document format")
	case errors.Is(err, service.ErrEmptyExtraction):
		return writeError(c, fiber.StatusUnprocessableEntity, "EMPTY_EXTRACTION", "no readable text in document")
	case errors.Is(err, service.ErrNoActiveDocument):
		return writeError(c, fiber.StatusNotFound, "NO_ACTIVE_DOCUMENT", "no active document")
	case errors.Is(err, service.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "document not found")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
