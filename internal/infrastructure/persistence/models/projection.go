package models

import (
	"time"

	"github.com/erp/catalogsync/internal/domain/projection"
	"github.com/google/uuid"
)

// ProjectionModel is one row of the projection store, keyed by (type, store, code)
type ProjectionModel struct {
	Type               string     `gorm:"primaryKey;type:varchar(32)"`
	Store              string     `gorm:"primaryKey;type:varchar(64)"`
	Code               string     `gorm:"primaryKey;type:varchar(128)"`
	Content            string     `gorm:"type:text;not null"`
	ContentHash        string     `gorm:"type:varchar(64);not null"`
	Version            int64      `gorm:"not null"`
	ProjectionDateTime time.Time  `gorm:"not null;index"`
	DisableDateTime    *time.Time `gorm:"index"`
	Deleted            bool       `gorm:"not null"`
	GUID               uuid.UUID  `gorm:"column:guid;type:uuid;not null;uniqueIndex"`
}

// TableName returns the table name for GORM
func (ProjectionModel) TableName() string {
	return "projections"
}

// ToDomain converts the row into a domain projection
func (m *ProjectionModel) ToDomain() *projection.Projection {
	p := &projection.Projection{
		Key: projection.Key{
			Type:  projection.Type(m.Type),
			Store: m.Store,
			Code:  m.Code,
		},
		Content:            []byte(m.Content),
		ContentHash:        m.ContentHash,
		Version:            m.Version,
		ProjectionDateTime: m.ProjectionDateTime.UTC(),
		Deleted:            m.Deleted,
		GUID:               m.GUID,
	}
	if m.DisableDateTime != nil {
		d := m.DisableDateTime.UTC()
		p.DisableDateTime = &d
	}
	return p
}

// FromDomain copies the body and key of p; version and guid are left to the caller
func (m *ProjectionModel) FromDomain(p *projection.Projection) {
	m.Type = string(p.Type)
	m.Store = p.Store
	m.Code = p.Code
	m.Content = string(p.Content)
	m.ContentHash = p.ContentHash
	m.ProjectionDateTime = p.ProjectionDateTime.UTC()
	m.DisableDateTime = nil
	if p.DisableDateTime != nil {
		d := p.DisableDateTime.UTC()
		m.DisableDateTime = &d
	}
	m.Deleted = p.Deleted
}

// ProjectionHistoryModel records a superseded projection version
type ProjectionHistoryModel struct {
	Version            int64     `gorm:"primaryKey;autoIncrement:false"`
	Type               string    `gorm:"primaryKey;type:varchar(32)"`
	Store              string    `gorm:"primaryKey;type:varchar(64)"`
	Code               string    `gorm:"primaryKey;type:varchar(128)"`
	ContentHash        string    `gorm:"type:varchar(64);not null"`
	ProjectionDateTime time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ProjectionHistoryModel) TableName() string {
	return "projection_history"
}

// ToDomain converts the row into a domain history entry
func (m *ProjectionHistoryModel) ToDomain() projection.History {
	return projection.History{
		Key: projection.Key{
			Type:  projection.Type(m.Type),
			Store: m.Store,
			Code:  m.Code,
		},
		Version:            m.Version,
		ContentHash:        m.ContentHash,
		ProjectionDateTime: m.ProjectionDateTime.UTC(),
	}
}

// HistoryOf captures the current state of row before it is superseded
func HistoryOf(row *ProjectionModel) *ProjectionHistoryModel {
	return &ProjectionHistoryModel{
		Version:            row.Version,
		Type:               row.Type,
		Store:              row.Store,
		Code:               row.Code,
		ContentHash:        row.ContentHash,
		ProjectionDateTime: row.ProjectionDateTime,
	}
}
