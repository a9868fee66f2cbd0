package dto

import "time"

// ProjectionURI addresses one projection
type ProjectionURI struct {
	Type  string `uri:"type" binding:"required"`
	Store string `uri:"store" binding:"required"`
	Code  string `uri:"code" binding:"required"`
}

// ProjectionStoreURI addresses the projections of one type in one store
type ProjectionStoreURI struct {
	Type  string `uri:"type" binding:"required"`
	Store string `uri:"store" binding:"required"`
}

// ListProjectionsQuery pages through a store ordered by code
type ListProjectionsQuery struct {
	Limit         int        `form:"limit" binding:"omitempty,min=1,max=1000"`
	StartAfter    string     `form:"startAfter"`
	ModifiedSince *time.Time `form:"modifiedSince" time_format:"2006-01-02T15:04:05Z07:00"`
}

// LookupRequest reads many projections by code, optionally within one store
type LookupRequest struct {
	Codes []string `json:"codes" binding:"required,min=1,max=1000,dive,required"`
	Store string   `json:"store"`
}

// NearestExpiryResponse carries the soonest future disable instant of a store
type NearestExpiryResponse struct {
	Type        string     `json:"type"`
	Store       string     `json:"store"`
	NextExpiry  *time.Time `json:"nextExpiry"`
	EvaluatedAt time.Time  `json:"evaluatedAt"`
}

// ChangeRequest reports a change made to a catalog entity
type ChangeRequest struct {
	Kind          string   `json:"kind" binding:"required"`
	Action        string   `json:"action" binding:"required"`
	Code          string   `json:"code" binding:"required"`
	EventID       string   `json:"eventId" binding:"omitempty,uuid"`
	Catalog       string   `json:"catalog"`
	MasterCatalog string   `json:"masterCatalog"`
	ParentCode    string   `json:"parentCode"`
	Stores        []string `json:"stores"`
}

// ChangeResponse acknowledges a dispatched change
type ChangeResponse struct {
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`
}

// RebuildRequest starts a full rebuild
type RebuildRequest struct {
	Mode string `json:"mode" binding:"omitempty,oneof=clean merge"`
}
