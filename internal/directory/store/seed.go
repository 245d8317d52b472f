package store

import (
	"context"

	"github.com/google/uuid"

	"quotaguard/internal/directory/models"
	id "quotaguard/pkg/domain"
)

// DemoOwnerID owns every seeded profile so the analytics route can be tried
// with a token for this subject.
var DemoOwnerID = id.UserID(uuid.MustParse("7d3e6a52-2f4c-4c59-9a57-5b0c1f1d8e21"))

// SeedDemo fills s with a small directory covering limited, unlimited and
// opted-out profiles.
func SeedDemo(s *InMemory) {
	ctx := context.Background()
	hospitals := []*models.Hospital{
		{ID: "h-charite", Name: "Charité Campus Mitte", City: "Berlin", Owner: DemoOwnerID, ViewLimit: 0},
		{ID: "h-st-marys", Name: "St Mary's Hospital", City: "London", Owner: DemoOwnerID, ViewLimit: 20},
	}
	doctors := []*models.Doctor{
		{ID: "d-ada", Name: "Dr. Ada Brandt", Specialty: "Cardiology", City: "Berlin", HospitalID: "h-charite", Owner: DemoOwnerID, ViewLimit: 3},
		{ID: "d-omar", Name: "Dr. Omar Haddad", Specialty: "Dermatology", City: "London", HospitalID: "h-st-marys", Owner: DemoOwnerID, ViewLimit: 10},
		{ID: "d-lena", Name: "Dr. Lena Vogel", Specialty: "Pediatrics", City: "Berlin", Owner: DemoOwnerID, ViewLimit: 0},
	}
	for _, h := range hospitals {
		_ = s.PutHospital(ctx, h)
	}
	for _, d := range doctors {
		_ = s.PutDoctor(ctx, d)
	}
}
