package persona

import "github.com/zhouzirui/rabbitt-console/internal/model/filter"

// Persona is a named bundle of filter overrides and a suggested chat prompt.
type Persona struct {
	ID          string           `json:"id"`
	Label       string           `json:"label"`
	Description string           `json:"description"`
	Filters     filter.Overrides `json:"filters"`
	Prompt      string           `json:"prompt"`
}

func str(v string) *string { return &v }

// Seed provides the default persona presets shown above the filter bar.
func Seed() []Persona {
	return []Persona{
		{
			ID:          "ceo",
			Label:       "CEO Mode",
			Description: "Topline KPIs & growth",
			Filters:     filter.Overrides{Region: str(""), Category: str("")},
			Prompt:      "Summarize this quarter's biggest growth/decline drivers.",
		},
		{
			ID:          "cmo",
			Label:       "CMO Mode",
			Description: "Marketing efficiency focus",
			Filters:     filter.Overrides{Channel: str("Online"), PromoFlag: str("Flash")},
			Prompt:      "Where should we reinvest marketing dollars for the best ROI?",
		},
		{
			ID:          "merch",
			Label:       "Merch Ops",
			Description: "Category mix & promos",
			Filters:     filter.Overrides{Category: str("Footwear"), PromoFlag: str("Clearance")},
			Prompt:      "Which SKUs need promotion to clear inventory?",
		},
	}
}
