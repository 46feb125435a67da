// handlers/sync.go
package handlers

import (
	"custodial-wallet-service/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// SetupSyncRoutes exposes on-demand sync runs and the current cursor. These
// are operator routes and carry no user context.
func SetupSyncRoutes(app *fiber.App, engine *services.SyncEngine, log *zap.Logger) {
	app.Post("/sync", func(c *fiber.Ctx) error {
		report, err := engine.Run(c.UserContext())
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(report)
	})

	app.Get("/sync/cursor", func(c *fiber.Ctx) error {
		cursor, err := engine.CurrentCursor(c.UserContext())
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(cursor)
	})
}
