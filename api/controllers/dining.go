package controllers

import (
	"net/http"

	"github.com/angelmondragon/mealrun-backend/api/responses"
	"github.com/angelmondragon/mealrun-backend/pkg/dining"
)

// DiningLocations serves the static campus catalog.
func DiningLocations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]any{"locations": dining.Locations()})
	}
}
