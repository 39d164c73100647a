// Package dining holds the static campus dining catalog requests are validated against.
package dining

import "strings"

// Location is a dining center and the restaurants inside it.
type Location struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Restaurants []string `json:"restaurants"`
}

var locations = []Location{
	{
		ID:   "dietrick-hall",
		Name: "Dietrick Hall",
		Restaurants: []string{
			"D2 (all-you-care-to-eat)", "Deet's Place", "DX", "Xpress Lane Market", "Futurebites",
			"Allee", "Salsa's", "Pan Asia", "Olives", "Mangia", "La Patisserie", "Gauchos Gluten-Free",
			"Gauchos", "Eden's West Side", "Eden's East Side", "East Side Deli",
		},
	},
	{
		ID:          "duckys",
		Name:        "Ducky's at Graduate Life Center",
		Restaurants: []string{"Ducky's Bubble Tea"},
	},
	{
		ID:          "hokie-grill",
		Name:        "Hokie Grill at Owens Hall",
		Restaurants: []string{"Pizza Hut", "Dunkin' VT", "Choolaah", "Chick-Fil-A"},
	},
	{
		ID:   "owens-food-court",
		Name: "Owens Food Court at Owens Hall",
		Restaurants: []string{
			"Wan", "Variabowl", "Tazon", "Sweets", "Pop's", "Garden", "Freshens", "Franks", "Dish", "Ciotola",
		},
	},
	{
		ID:   "perry-place",
		Name: "Perry Place at Hitt Hall",
		Restaurants: []string{
			"Veloce", "Trax Deli", "Solarex Diner", "Smoke", "Rambutan", "Fresh & Feta", "Chick-fil-A",
			"Addison's Provisions", "AMP Coffee Bar",
		},
	},
	{
		ID:          "squires",
		Name:        "Squires Food Court at Squires Student Center",
		Restaurants: []string{"Corner '24", "Burger '37"},
	},
	{
		ID:   "turner-place",
		Name: "Turner Place at Lavery Hall",
		Restaurants: []string{
			"Soup Garden", "Qdoba", "Origami", "Jamba", "Dolce e Caffe", "Bruegger's Bagels",
			"Atomic Pizzeria", "1872 Fire Grill",
		},
	},
	{
		ID:          "viva-market",
		Name:        "Viva Market at Johnston Student Center",
		Restaurants: []string{"Viva Market"},
	},
	{
		ID:          "viva-too",
		Name:        "Viva Too at Goodwin Hall",
		Restaurants: []string{"Viva Too"},
	},
	{
		ID:   "west-end",
		Name: "West End at Cochrane Hall",
		Restaurants: []string{
			"Seven70", "Rosso", "Leaf & Ladle", "JP's Chop House", "Fighting Gobbler", "Blend",
		},
	},
}

// Locations returns a copy of the catalog in display order.
func Locations() []Location {
	out := make([]Location, len(locations))
	for i, loc := range locations {
		out[i] = Location{
			ID:          loc.ID,
			Name:        loc.Name,
			Restaurants: append([]string(nil), loc.Restaurants...),
		}
	}
	return out
}

// Lookup finds a location by id or display name, ignoring case and outer whitespace.
func Lookup(value string) (Location, bool) {
	key := strings.TrimSpace(value)
	if key == "" {
		return Location{}, false
	}
	for _, loc := range locations {
		if strings.EqualFold(loc.ID, key) || strings.EqualFold(loc.Name, key) {
			return loc, true
		}
	}
	return Location{}, false
}

// Restaurant returns the canonical restaurant name when it belongs to loc.
func (loc Location) Restaurant(name string) (string, bool) {
	key := strings.TrimSpace(name)
	if key == "" {
		return "", false
	}
	for _, r := range loc.Restaurants {
		if strings.EqualFold(r, key) {
			return r, true
		}
	}
	return "", false
}
