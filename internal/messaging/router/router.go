package router

import (
	"context"

	"profitum_messaging/internal/messaging/app"
	"profitum_messaging/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes mount the messaging endpoints
func RegisterRoutes(r *fiber.App, handler *app.MessagingWebsocketHandler) {
	r.Use(middlewares.JWTMiddleware())

	r.Get("/ws", websocket.New(func(c *websocket.Conn) {
		handler.HandleConnection(context.Background(), c)
	}))

	// attachments ride plain HTTP; the socket only carries references
	r.Post("/conversations/:conversation_id/attachments", handler.UploadAttachment)
	r.Get("/conversations/:conversation_id/attachments", handler.AttachmentURL)
}
