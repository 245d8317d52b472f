// Package models holds the directory entities whose profile views are
// governed by owner-defined daily quotas.
package models

import (
	"strings"

	ratelimitmodels "quotaguard/internal/ratelimit/models"
	id "quotaguard/pkg/domain"
)

// Doctor is a practitioner profile.
type Doctor struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Specialty  string    `json:"specialty"`
	City       string    `json:"city"`
	HospitalID string    `json:"hospital_id,omitempty"`
	Owner      id.UserID `json:"-"`
	// ViewLimit is the owner's anonymous daily view limit; 0 means unlimited.
	ViewLimit int `json:"-"`
}

func (d *Doctor) EntityID() string                       { return d.ID }
func (d *Doctor) EntityKind() ratelimitmodels.EntityKind { return ratelimitmodels.EntityDoctor }
func (d *Doctor) DailyLimit() int                        { return d.ViewLimit }
func (d *Doctor) OwnerID() id.UserID                     { return d.Owner }

// Hospital is a facility profile.
type Hospital struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	City      string    `json:"city"`
	Owner     id.UserID `json:"-"`
	ViewLimit int       `json:"-"`
}

func (h *Hospital) EntityID() string                       { return h.ID }
func (h *Hospital) EntityKind() ratelimitmodels.EntityKind { return ratelimitmodels.EntityHospital }
func (h *Hospital) DailyLimit() int                        { return h.ViewLimit }
func (h *Hospital) OwnerID() id.UserID                     { return h.Owner }

// SearchResult is one hit of a directory search. Results carry no view
// quota; only opening a profile counts.
type SearchResult struct {
	Kind ratelimitmodels.EntityKind `json:"kind"`
	ID   string                     `json:"id"`
	Name string                     `json:"name"`
	City string                     `json:"city"`
}

// MaxSearchResults bounds a single search response.
const MaxSearchResults = 50

// NormalizeQuery trims and lowercases a search term.
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}
