// handlers/node.go
package handlers

import (
	"custodial-wallet-service/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SetupNodeRoutes exposes read-only node views next to the sync routes.
func SetupNodeRoutes(app *fiber.App, nodes *services.NodeService, log *zap.Logger) {
	node := app.Group("/node")

	node.Get("/balance", func(c *fiber.Ctx) error {
		balance, err := nodes.Balance(c.UserContext())
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{"wallet_balance": balance})
	})

	node.Get("/transactions", func(c *fiber.Ctx) error {
		var q struct {
			StartHeight int32 `query:"start_height"`
		}
		if err := c.QueryParser(&q); err != nil {
			return respondError(c, log, status.Error(codes.InvalidArgument, "invalid start_height"))
		}

		txs, err := nodes.Transactions(c.UserContext(), q.StartHeight)
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{"transactions": txs})
	})
}
