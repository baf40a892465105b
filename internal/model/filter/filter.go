package filter

// State is the user's current filter selection. An empty field means no
// constraint is applied on that dimension.
type State struct {
	Region    string `json:"region,omitempty"`
	Category  string `json:"category,omitempty"`
	Channel   string `json:"channel,omitempty"`
	PromoFlag string `json:"promo_flag,omitempty"`
	Start     string `json:"start,omitempty"`
	End       string `json:"end,omitempty"`
}

// Overrides is a partial selection laid over a State. Nil fields leave the
// underlying value untouched.
type Overrides struct {
	Region    *string `json:"region,omitempty"`
	Category  *string `json:"category,omitempty"`
	Channel   *string `json:"channel,omitempty"`
	PromoFlag *string `json:"promo_flag,omitempty"`
}

// Merge returns s with every non-nil override applied.
func (s State) Merge(o Overrides) State {
	if o.Region != nil {
		s.Region = *o.Region
	}
	if o.Category != nil {
		s.Category = *o.Category
	}
	if o.Channel != nil {
		s.Channel = *o.Channel
	}
	if o.PromoFlag != nil {
		s.PromoFlag = *o.PromoFlag
	}
	return s
}

// Options is the filter vocabulary served by GET /api/filters.
type Options struct {
	Regions    []string  `json:"regions"`
	Categories []string  `json:"categories"`
	Channels   []string  `json:"channels"`
	PromoFlags []string  `json:"promo_flags"`
	DateRange  [2]string `json:"date_range"`
}

// Payload is the outbound body derived from a State.
type Payload map[string]any

// ToPayload wraps single-valued dimensions into one-element lists and drops
// absent fields entirely.
func ToPayload(s State) Payload {
	p := Payload{}
	if s.Region != "" {
		p["region"] = []string{s.Region}
	}
	if s.Category != "" {
		p["category"] = []string{s.Category}
	}
	if s.Channel != "" {
		p["channel"] = []string{s.Channel}
	}
	if s.PromoFlag != "" {
		p["promo_flag"] = []string{s.PromoFlag}
	}
	if s.Start != "" {
		p["start"] = s.Start
	}
	if s.End != "" {
		p["end"] = s.End
	}
	return p
}

// With returns a copy of p with extra top-level fields.
func (p Payload) With(key string, value any) Payload {
	out := make(Payload, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[key] = value
	return out
}

// WithinOptions fills the missing date bounds of s from the options range.
func WithinOptions(s State, opts Options) State {
	if s.Start == "" && opts.DateRange[0] != "" {
		s.Start = opts.DateRange[0]
	}
	if s.End == "" && opts.DateRange[1] != "" {
		s.End = opts.DateRange[1]
	}
	return s
}

// Base is the reset selection: the full date range and nothing else.
func Base(opts Options) State {
	return State{Start: opts.DateRange[0], End: opts.DateRange[1]}
}
