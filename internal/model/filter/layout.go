package filter

import "encoding/json"

// Layout widget identifiers.
const (
	WidgetKpis          = "showKpis"
	WidgetTrend         = "showTrend"
	WidgetRegionalSplit = "showRegionalSplit"
	WidgetCategoryMix   = "showCategoryMix"
	WidgetChat          = "showChat"
	WidgetInsights      = "showInsights"
	WidgetInventory     = "showInventory"
	WidgetSupply        = "showSupply"
	WidgetMarketing     = "showMarketing"
)

// Widgets lists every known widget in display order.
var Widgets = []string{
	WidgetKpis,
	WidgetTrend,
	WidgetRegionalSplit,
	WidgetCategoryMix,
	WidgetChat,
	WidgetInsights,
	WidgetInventory,
	WidgetSupply,
	WidgetMarketing,
}

// Layout maps widget identifiers to visibility.
type Layout map[string]bool

// DefaultLayout shows every widget.
func DefaultLayout() Layout {
	l := make(Layout, len(Widgets))
	for _, w := range Widgets {
		l[w] = true
	}
	return l
}

// KnownWidget reports whether name is a layout widget.
func KnownWidget(name string) bool {
	for _, w := range Widgets {
		if w == name {
			return true
		}
	}
	return false
}

// UnmarshalJSON keeps known widgets only; missing ones stay visible.
func (l *Layout) UnmarshalJSON(data []byte) error {
	var raw map[string]bool
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := DefaultLayout()
	for k, v := range raw {
		if KnownWidget(k) {
			out[k] = v
		}
	}
	*l = out
	return nil
}

// Toggle returns a copy of l with name flipped.
func (l Layout) Toggle(name string) Layout {
	out := make(Layout, len(l))
	for k, v := range l {
		out[k] = v
	}
	out[name] = !out[name]
	return out
}
