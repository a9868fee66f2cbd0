// Package models contains the GORM persistence models of the projection
// store and of the catalog tables the engine reads. Domain types stay free of
// ORM tags; each model converts to and from its domain counterpart.
package models
