package handler

import (
	"context"

	"github.com/erp/catalogsync/internal/application/catalogsync"
	"github.com/erp/catalogsync/internal/domain/catalog"
	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"github.com/erp/catalogsync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ActorHeader names who made a change; it is carried into the sync logs
const ActorHeader = "X-Actor"

// ChangeHandler feeds catalog change notifications into the event bus
type ChangeHandler struct {
	BaseHandler
	bus shared.EventPublisher
}

// NewChangeHandler creates a ChangeHandler publishing to bus
func NewChangeHandler(bus shared.EventPublisher) *ChangeHandler {
	return &ChangeHandler{bus: bus}
}

// Dispatch builds a change event from the request and publishes it. The
// bus delivers synchronously, so the response reflects the sync outcome.
func (h *ChangeHandler) Dispatch(c *gin.Context) {
	var req dto.ChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	event, err := toChangeEvent(req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	ctx := c.Request.Context()
	if actor := c.GetHeader(ActorHeader); actor != "" {
		ctx, _ = logger.WithActor(ctx, logger.GetGinLogger(c), actor)
	}
	if err := h.bus.Publish(ctx, event); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ChangeResponse{
		EventID:   event.EventID().String(),
		EventType: event.EventType(),
	})
}

func toChangeEvent(req dto.ChangeRequest) (*catalog.ChangeEvent, error) {
	event := catalog.NewChangeEvent(catalog.EntityKind(req.Kind), catalog.Action(req.Action), req.Code).
		InCatalog(req.Catalog).
		LinkedTo(req.MasterCatalog)
	event.ParentCode = req.ParentCode
	event.Stores = req.Stores
	if req.EventID != "" {
		id, err := uuid.Parse(req.EventID)
		if err != nil {
			return nil, shared.ErrInvalidInput.WithMessage("eventId is not a UUID")
		}
		event.ID = id
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return event, nil
}

// Rebuilder runs a full projection rebuild
type Rebuilder interface {
	Run(ctx context.Context, mode catalogsync.RebuildMode) (*catalogsync.RebuildReport, error)
}

// RebuildHandler starts full rebuilds on demand
type RebuildHandler struct {
	BaseHandler
	runner Rebuilder
}

// NewRebuildHandler creates a RebuildHandler
func NewRebuildHandler(runner Rebuilder) *RebuildHandler {
	return &RebuildHandler{runner: runner}
}

// Rebuild runs the rebuild to completion and returns its report. Entity
// failures still return the report, with the error in the envelope.
func (h *RebuildHandler) Rebuild(c *gin.Context) {
	var req dto.RebuildRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.BindError(c, err)
			return
		}
	}
	mode, err := catalogsync.ParseRebuildMode(req.Mode)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	report, err := h.runner.Run(c.Request.Context(), mode)
	if err != nil && report == nil {
		h.HandleError(c, err)
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(dto.GetHTTPStatus(dto.ErrCodeInternal), dto.Response{
			Data:  report,
			Error: &dto.ErrorInfo{Code: dto.ErrCodeInternal, Message: err.Error(), RequestID: getRequestID(c)},
		})
		return
	}
	h.Success(c, report)
}
