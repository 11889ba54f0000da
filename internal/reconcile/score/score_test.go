package score_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"lattice/internal/entity/models"
	"lattice/internal/reconcile/score"
)

func TestCompleteness(t *testing.T) {
	tests := []struct {
		name       string
		collection string
		data       map[string]any
		want       float64
	}{
		{
			name:       "empty company scores zero",
			collection: models.CollectionCompanies,
			data:       map[string]any{},
			want:       0,
		},
		{
			name:       "company with three of ten fields",
			collection: models.CollectionCompanies,
			data: map[string]any{
				"name":  "Acme",
				"phone": "555-0100",
				"city":  "Chicago",
			},
			want: 0.3,
		},
		{
			name:       "empty string and empty containers are absent",
			collection: models.CollectionCompanies,
			data: map[string]any{
				"name":           "Acme",
				"phone":          "",
				"searchKeywords": []any{},
				"associations":   map[string]any{},
			},
			want: 0.1,
		},
		{
			name:       "numbers and false booleans count as present",
			collection: models.CollectionDeals,
			data: map[string]any{
				"amount": float64(0),
				"stage":  "open",
			},
			want: 2.0 / 7.0,
		},
		{
			name:       "fields outside the important list are ignored",
			collection: models.CollectionSalespeople,
			data: map[string]any{
				"name":      "Dana",
				"nickname":  "D",
				"updatedAt": "2026-01-01T00:00:00Z",
			},
			want: 1.0 / 3.0,
		},
		{
			name:       "unknown collection scores zero",
			collection: "widgets",
			data:       map[string]any{"name": "full"},
			want:       0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := score.Completeness(tt.collection, tt.data)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCompletenessIsDeterministic(t *testing.T) {
	data := map[string]any{"fullName": "Pat Q", "email": "pat@example.com"}
	first := score.Completeness(models.CollectionContacts, data)
	for i := 0; i < 10; i++ {
		assert.True(t, math.Abs(score.Completeness(models.CollectionContacts, data)-first) < 1e-12)
	}
}

func TestFieldsFor(t *testing.T) {
	assert.Len(t, score.FieldsFor(models.CollectionCompanies), 10)
	assert.Len(t, score.FieldsFor(models.CollectionCandidates), 7)
	assert.Nil(t, score.FieldsFor(models.CollectionLocations))
}
