// handlers/errors.go
package handlers

import (
	"custodial-wallet-service/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
)

// respondError logs errors that map to an internal failure and writes the
// categorised error body.
func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	if code := utils.ToStatus(err).Code(); code == codes.Unknown {
		log.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}
	return utils.RespondError(c, err)
}
