package handler

import (
	"context"
	"time"

	"github.com/erp/catalogsync/internal/domain/projection"
	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/erp/catalogsync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// HistoryReader lists the superseded versions of a projection
type HistoryReader interface {
	History(ctx context.Context, key projection.Key) ([]projection.History, error)
}

// ProjectionHandler serves reads of the projection store
type ProjectionHandler struct {
	BaseHandler
	reader  projection.Reader
	history HistoryReader
	clock   func() time.Time
}

// NewProjectionHandler creates a ProjectionHandler. history may be nil, in
// which case the history route answers 404.
func NewProjectionHandler(reader projection.Reader, history HistoryReader) *ProjectionHandler {
	return &ProjectionHandler{
		reader:  reader,
		history: history,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

func parseType(raw string) (projection.Type, error) {
	t, err := projection.ParseType(raw)
	if err != nil {
		return "", shared.ErrInvalidInput.WithMessage(err.Error())
	}
	return t, nil
}

// Get returns one projection, tombstones included
func (h *ProjectionHandler) Get(c *gin.Context) {
	var uri dto.ProjectionURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BindError(c, err)
		return
	}
	t, err := parseType(uri.Type)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	p, err := h.reader.Read(c.Request.Context(), projection.Key{Type: t, Store: uri.Store, Code: uri.Code})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, p)
}

// List pages through the projections of a type in a store
func (h *ProjectionHandler) List(c *gin.Context) {
	var uri dto.ProjectionStoreURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BindError(c, err)
		return
	}
	var query dto.ListProjectionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.BindError(c, err)
		return
	}
	t, err := parseType(uri.Type)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	page, err := h.reader.ReadAll(c.Request.Context(), t, uri.Store, projection.Page{
		Limit:         query.Limit,
		StartAfter:    query.StartAfter,
		ModifiedSince: query.ModifiedSince,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, page)
}

// Lookup reads projections by code, across every store unless one is named
func (h *ProjectionHandler) Lookup(c *gin.Context) {
	t, err := parseType(c.Param("type"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	var req dto.LookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	var items []projection.Projection
	if req.Store != "" {
		items, err = h.reader.ReadByCodesInStore(c.Request.Context(), t, req.Store, req.Codes)
	} else {
		items, err = h.reader.ReadByCodes(c.Request.Context(), t, req.Codes)
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if items == nil {
		items = []projection.Projection{}
	}
	h.Success(c, items)
}

// NearestExpiry returns the soonest future disable instant among live rows
func (h *ProjectionHandler) NearestExpiry(c *gin.Context) {
	var uri dto.ProjectionStoreURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BindError(c, err)
		return
	}
	t, err := parseType(uri.Type)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	now := h.clock()
	next, err := h.reader.NearestExpiry(c.Request.Context(), t, uri.Store, now)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NearestExpiryResponse{
		Type:        string(t),
		Store:       uri.Store,
		NextExpiry:  next,
		EvaluatedAt: now,
	})
}

// History lists the superseded versions of one projection, oldest first
func (h *ProjectionHandler) History(c *gin.Context) {
	if h.history == nil {
		h.HandleError(c, shared.ErrNotFound.WithMessage("projection history is disabled"))
		return
	}
	var uri dto.ProjectionURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BindError(c, err)
		return
	}
	t, err := parseType(uri.Type)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	versions, err := h.history.History(c.Request.Context(), projection.Key{Type: t, Store: uri.Store, Code: uri.Code})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, versions)
}
