// handlers/wallet.go
package handlers

import (
	"custodial-wallet-service/middleware"
	"custodial-wallet-service/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SetupWalletRoutes registers the user-facing wallet routes under /s. The
// gateway forwards /api/v1/wallet/s/... here with X-User-ID set.
func SetupWalletRoutes(app *fiber.App, wallets *services.WalletService, payments *services.PaymentService, log *zap.Logger) {
	secured := app.Group("/s", middleware.UserContextMiddleware(log))

	secured.Post("/wallets", func(c *fiber.Ctx) error {
		view, err := wallets.CreateWallet(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return respondError(c, log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(view)
	})

	secured.Get("/wallets/:id", func(c *fiber.Ctx) error {
		view, err := wallets.GetWallet(c.UserContext(), middleware.UserID(c), walletID(c))
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(view)
	})

	secured.Post("/wallets/:id/addresses", func(c *fiber.Ctx) error {
		addr, err := wallets.AllocateAddress(c.UserContext(), middleware.UserID(c), walletID(c))
		if err != nil {
			return respondError(c, log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(addr)
	})

	secured.Get("/wallets/:id/payments", func(c *fiber.Ctx) error {
		list, err := wallets.ListPayments(c.UserContext(), middleware.UserID(c), walletID(c))
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{"payments": list})
	})

	secured.Post("/wallets/:id/payments", func(c *fiber.Ctx) error {
		var req services.PaymentRequest
		if err := c.BodyParser(&req); err != nil {
			return respondError(c, log, status.Error(codes.InvalidArgument, "invalid request body"))
		}

		payment, err := payments.SubmitPayment(c.UserContext(), middleware.UserID(c), walletID(c), req)
		if err != nil {
			return respondError(c, log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(payment)
	})
}

// walletID copies the :id param out of the request buffer so it can be
// stored.
func walletID(c *fiber.Ctx) string {
	return utils.CopyString(c.Params("id"))
}
