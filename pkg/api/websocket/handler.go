package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/domain"
	"github.com/aescanero/runnerd/internal/ports"
)

const (
	streamBuffer = 32
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler. eventBus must fan every event
// out to all subscribers, not share them across a consumer group.
func NewHandler(eventBus ports.EventBus, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		logger:   logger,
	}
}

// HandleDeploymentStream streams the events of one deployment
func (h *Handler) HandleDeploymentStream(c *gin.Context) {
	deploymentID := c.Param("id")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Subscribe before the upgrade so no event published after the
	// handshake is missed.
	events := make(chan domain.DeploymentEvent, streamBuffer)
	err := h.eventBus.Subscribe(ctx, domain.TopicDeploymentEvents, func(ctx context.Context, event domain.DeploymentEvent) error {
		if event.DeploymentID != deploymentID {
			return nil
		}
		select {
		case events <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			h.logger.Warn("event stream full, dropping event",
				zap.String("deployment_id", deploymentID),
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	})
	if err != nil {
		h.logger.Error("failed to subscribe to events", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("deployment_id", deploymentID),
		zap.String("client", c.ClientIP()))

	// The read loop only exists to notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("WebSocket connection closed", zap.String("deployment_id", deploymentID))
			return
		case event := <-events:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal event", zap.Error(err))
				continue
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn("failed to write message", zap.Error(err))
				return
			}
		}
	}
}
