package app

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"profitum_messaging/internal/messaging/domain"
	errprocess "profitum_messaging/pkg/err"
	"profitum_messaging/pkg/logger"
	"profitum_messaging/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// MessagingWebsocketHandler entry point for participant sessions. Each
// connection gets its own SessionCache; cache snapshots are pushed to
// the socket as notify_* frames.
type MessagingWebsocketHandler struct {
	svc      MessagingAPI
	backoff  BackoffPolicy
	pageSize int
}

// NewMessagingWebsocketHandler create MessagingWebsocketHandler
func NewMessagingWebsocketHandler(svc MessagingAPI, backoff BackoffPolicy, pageSize int) *MessagingWebsocketHandler {
	return &MessagingWebsocketHandler{
		svc:      svc,
		backoff:  backoff,
		pageSize: pageSize,
	}
}

// connWriter serializes socket writes; cache callbacks arrive from
// several goroutines
type connWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *connWriter) send(resp domain.WSResponse) {
	b, _ := json.Marshal(resp)
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		logger.Log.Errorf("write message error:", err)
	}
}

// ConversationsChanged push the conversation list snapshot
func (w *connWriter) ConversationsChanged(convs []domain.Conversation) {
	w.send(domain.WSResponse{
		Action:  string(domain.NotifyConversation),
		Success: true,
		Payload: map[string]interface{}{"conversations": convs},
	})
}

// MessagesChanged push one conversation's message snapshot
func (w *connWriter) MessagesChanged(conversationID string, msgs []domain.Message) {
	w.send(domain.WSResponse{
		Action:  string(domain.NotifyMessage),
		Success: true,
		Payload: map[string]interface{}{
			"conversation_id": conversationID,
			"messages":        msgs,
		},
	})
}

// ConnStateChanged push the transport state
func (w *connWriter) ConnStateChanged(state domain.ConnState) {
	w.send(domain.WSResponse{
		Action:  string(domain.NotifyConnState),
		Success: true,
		Payload: map[string]interface{}{"state": state},
	})
}

// TypingChanged push a typing signal
func (w *connWriter) TypingChanged(t domain.TypingIndicator) {
	w.send(domain.WSResponse{
		Action:  string(domain.Typing),
		Success: true,
		Payload: map[string]interface{}{"typing": t},
	})
}

// PresenceChanged push a presence signal
func (w *connWriter) PresenceChanged(s domain.OnlineStatus) {
	w.send(domain.WSResponse{
		Action:  string(domain.Heartbeat),
		Success: true,
		Payload: map[string]interface{}{"presence": s},
	})
}

// Push toast frame
func (w *connWriter) Push(t domain.Toast) {
	w.send(domain.WSResponse{
		Action:  string(domain.NotifyToast),
		Success: true,
		Payload: map[string]interface{}{"toast": t},
	})
}

// HandleConnection run one participant session until the socket drops
func (h *MessagingWebsocketHandler) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	tokenParticipant := conn.Locals(middlewares.TokenParticipantID)
	participantID, ok := tokenParticipant.(string)
	if !ok || participantID == "" {
		logger.Log.Warn("websocket without participant id, closing")
		conn.Close()
		return
	}
	logger.Log.Info("websocket session start", zap.String("participant", participantID))

	ticker := time.NewTicker(10 * time.Minute)
	writer := &connWriter{conn: conn}
	cache := NewSessionCache(h.svc, participantID, writer, writer, h.backoff, h.pageSize)

	defer func() {
		ticker.Stop()
		cache.Close()
		logger.Log.Info("websocket session end", zap.String("participant", participantID))
		conn.Close()
	}()

	// close and pong are handled by fiber; the handlers only surface logs
	conn.SetCloseHandler(func(code int, text string) error {
		logger.Log.Infof("WebSocket closed:", conn.RemoteAddr())
		return nil
	})
	conn.SetPongHandler(func(appData string) error {
		logger.Log.Debug("received pong", zap.String("participant", participantID))
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(appData),
			time.Now().Add(time.Second),
		)
	})

	if err := cache.Start(ctx); err != nil {
		logger.Log.Warn("session start degraded, reconnect pending",
			zap.String("participant", participantID), zap.Error(err))
	}

	// periodic ping keeps intermediaries from reaping idle sessions
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
					logger.Log.Errorf("Ping error:", err)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Log.Infof("Connection closed:", err)
			} else {
				logger.Log.Errorf("websocket read error:", err)
			}
			return
		}
		h.execWebsocketAction(ctx, writer, cache, participantID, mt, message)
	}
}

func (h *MessagingWebsocketHandler) execWebsocketAction(ctx context.Context, writer *connWriter, cache *SessionCache, participantID string, mt int, msg []byte) {
	switch mt {
	case websocket.TextMessage:
		h.textMessageAction(ctx, writer, cache, participantID, msg)
	default:
		writer.send(domain.WSResponse{Action: "error", Success: false, Error: "unknown message type"})
	}
}

func (h *MessagingWebsocketHandler) textMessageAction(ctx context.Context, writer *connWriter, cache *SessionCache, participantID string, msg []byte) {
	var req domain.WSRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		log.Printf("json unmarshal error: %v", err)
		return
	}

	resp := domain.WSResponse{Action: req.Action, Success: false, Payload: map[string]interface{}{}}
	switch req.Action {
	case string(domain.ListConversations):
		if err := cache.RefreshConversations(ctx); err != nil {
			resp.Error = err.Error()
		} else {
			resp.Success = true
			resp.Payload["conversations"] = cache.Conversations()
		}

	case string(domain.OpenConversation):
		if err := cache.OpenConversation(ctx, req.ConversationID); err != nil {
			resp.Error = err.Error()
		} else {
			resp.Success = true
			resp.Payload["conversation_id"] = req.ConversationID
			resp.Payload["messages"] = cache.Messages(req.ConversationID)
		}

	case string(domain.LoadOlder):
		if err := cache.LoadOlder(ctx, req.ConversationID); err != nil {
			resp.Error = err.Error()
		} else {
			resp.Success = true
			resp.Payload["messages"] = cache.Messages(req.ConversationID)
		}

	case string(domain.CreateConversation):
		conv, err := h.svc.CreateConversation(ctx, participantID, domain.CreateConversationRequest{
			Kind:         domain.ConversationKind(req.Kind),
			Title:        req.Title,
			Participants: req.Participants,
		})
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Success = true
			resp.Payload["conversation_id"] = conv.ID
		}

	case string(domain.SendMessage):
		var attachment *domain.FileAttachment
		if req.AttachmentPath != "" {
			attachment = &domain.FileAttachment{
				StoragePath: req.AttachmentPath,
				MimeType:    req.AttachmentMime,
				Size:        req.AttachmentSize,
				Filename:    req.AttachmentName,
			}
		}
		tempID := cache.Send(req.ConversationID, req.Content, attachment)
		resp.Success = true
		resp.Payload["temp_id"] = tempID

	case string(domain.RetryMessage):
		cache.Retry(req.TempID)
		resp.Success = true
		resp.Payload["temp_id"] = req.TempID

	case string(domain.MarkRead):
		if err := h.svc.MarkRead(ctx, participantID, req.ConversationID); err != nil {
			resp.Error = err.Error()
		} else {
			resp.Success = true
		}

	case string(domain.Typing):
		err := h.svc.SetTyping(ctx, participantID, domain.TypingIndicator{
			ConversationID: req.ConversationID,
			IsTyping:       req.IsTyping,
		})
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Success = true
		}

	case string(domain.Heartbeat):
		if err := h.svc.Heartbeat(ctx, participantID); err != nil {
			resp.Error = err.Error()
		} else {
			resp.Success = true
		}

	default:
		writer.send(domain.WSResponse{Action: "error", Success: false, Error: "unknown action"})
		return
	}

	if resp.Error != "" {
		logger.Log.Error("websocket err ", zap.String("ParticipantID", participantID), zap.String("Action", req.Action), zap.String("err", resp.Error))
	}
	writer.send(resp)
}

// UploadAttachment multipart upload endpoint; returns the attachment
// descriptor to reference from a later send_message
func (h *MessagingWebsocketHandler) UploadAttachment(c *fiber.Ctx) error {
	participantID, ok := c.Locals(middlewares.TokenParticipantID).(string)
	if !ok || participantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	conversationID := c.Params("conversation_id")

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file field required"})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	defer file.Close()

	attachment, err := h.svc.UploadAttachment(
		c.Context(), participantID, conversationID,
		fileHeader.Filename, file, fileHeader.Size,
		fileHeader.Header.Get("Content-Type"),
	)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(attachment)
}

// AttachmentURL presigned download endpoint
func (h *MessagingWebsocketHandler) AttachmentURL(c *fiber.Ctx) error {
	participantID, ok := c.Locals(middlewares.TokenParticipantID).(string)
	if !ok || participantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	conversationID := c.Params("conversation_id")
	storagePath := c.Query("path")
	if storagePath == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "path query required"})
	}

	url, err := h.svc.AttachmentURL(c.Context(), participantID, conversationID, storagePath)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"url": url})
}

func statusFor(err error) int {
	switch errprocess.KindOf(err) {
	case errprocess.KindValidation:
		return fiber.StatusBadRequest
	case errprocess.KindAuthorization:
		return fiber.StatusForbidden
	case errprocess.KindNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}
