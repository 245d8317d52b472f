package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"quotaguard/internal/directory/models"
	ratelimitmodels "quotaguard/internal/ratelimit/models"
	"quotaguard/pkg/platform/sentinel"
)

var errNilEntity = errors.New("entity is required")

// InMemory is the demo directory. Profiles are keyed by id within their kind.
type InMemory struct {
	mu        sync.RWMutex
	doctors   map[string]*models.Doctor
	hospitals map[string]*models.Hospital
}

func NewInMemory() *InMemory {
	return &InMemory{
		doctors:   make(map[string]*models.Doctor),
		hospitals: make(map[string]*models.Hospital),
	}
}

func (s *InMemory) PutDoctor(_ context.Context, d *models.Doctor) error {
	if d == nil || d.ID == "" {
		return errNilEntity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.doctors[d.ID] = &cp
	return nil
}

func (s *InMemory) PutHospital(_ context.Context, h *models.Hospital) error {
	if h == nil || h.ID == "" {
		return errNilEntity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *h
	s.hospitals[h.ID] = &cp
	return nil
}

func (s *InMemory) FindDoctor(_ context.Context, doctorID string) (*models.Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.doctors[doctorID]
	if !ok {
		return nil, fmt.Errorf("doctor %q: %w", doctorID, sentinel.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (s *InMemory) FindHospital(_ context.Context, hospitalID string) (*models.Hospital, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hospitals[hospitalID]
	if !ok {
		return nil, fmt.Errorf("hospital %q: %w", hospitalID, sentinel.ErrNotFound)
	}
	cp := *h
	return &cp, nil
}

// Lookup returns the entity of the given kind for quota checks.
func (s *InMemory) Lookup(ctx context.Context, kind ratelimitmodels.EntityKind, entityID string) (ratelimitmodels.Entity, error) {
	switch kind {
	case ratelimitmodels.EntityDoctor:
		d, err := s.FindDoctor(ctx, entityID)
		if err != nil {
			return nil, err
		}
		return d, nil
	case ratelimitmodels.EntityHospital:
		h, err := s.FindHospital(ctx, entityID)
		if err != nil {
			return nil, err
		}
		return h, nil
	default:
		return nil, fmt.Errorf("entity kind %q: %w", kind, sentinel.ErrNotFound)
	}
}

// Search matches the normalized query against names, specialties and cities.
// Results are ordered by name and capped at limit.
func (s *InMemory) Search(_ context.Context, query string, limit int) ([]models.SearchResult, error) {
	q := models.NormalizeQuery(query)
	if q == "" {
		return []models.SearchResult{}, nil
	}
	if limit <= 0 || limit > models.MaxSearchResults {
		limit = models.MaxSearchResults
	}

	s.mu.RLock()
	results := make([]models.SearchResult, 0)
	for _, d := range s.doctors {
		if matches(q, d.Name, d.Specialty, d.City) {
			results = append(results, models.SearchResult{Kind: d.EntityKind(), ID: d.ID, Name: d.Name, City: d.City})
		}
	}
	for _, h := range s.hospitals {
		if matches(q, h.Name, h.City) {
			results = append(results, models.SearchResult{Kind: h.EntityKind(), ID: h.ID, Name: h.Name, City: h.City})
		}
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Name != results[j].Name {
			return results[i].Name < results[j].Name
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func matches(q string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}
