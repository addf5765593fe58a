package ranking

// Params tunes the relevance score of the business scorer and the cutoff of the
// search ranker. Every ranking call receives its Params explicitly.
type Params struct {
	// Alpha trades text relevance (1) against proximity (0).
	Alpha float64 `yaml:"alpha" json:"alpha"`
	// Beta sets how steeply the distance penalty grows with miles.
	Beta float64 `yaml:"beta" json:"beta"`
	// Gamma is how many of the closest feature matches are averaged.
	// Zero or negative averages every feature.
	Gamma int `yaml:"gamma" json:"gamma"`
	// Cutoff is the maximum admitted score. Nil admits every business.
	Cutoff *float64 `yaml:"cutoff" json:"cutoff,omitempty"`
}

// DefaultSearchParams returns the search ranker defaults: alpha 0.5, beta 0.1,
// gamma 3, cutoff 1.
func DefaultSearchParams() Params {
	return Params{Alpha: 0.5, Beta: 0.1, Gamma: 3, Cutoff: Float(1)}
}

// PipelineParams returns the tuning used by the filter pipeline: alpha 0.5,
// beta 0.1, gamma 10, cutoff 1.7.
func PipelineParams() Params {
	return Params{Alpha: 0.5, Beta: 0.1, Gamma: 10, Cutoff: Float(1.7)}
}

// Overrides replaces individual Params fields. Nil fields are left alone.
type Overrides struct {
	Alpha  *float64 `yaml:"alpha,omitempty" json:"alpha,omitempty" validate:"omitempty,gte=0,lte=1"`
	Beta   *float64 `yaml:"beta,omitempty" json:"beta,omitempty" validate:"omitempty,gte=0"`
	Gamma  *int     `yaml:"gamma,omitempty" json:"gamma,omitempty" validate:"omitempty,gte=1"`
	Cutoff *float64 `yaml:"cutoff,omitempty" json:"cutoff,omitempty"`
}

// Apply returns a copy of p with the non-nil overrides applied.
func (p Params) Apply(o Overrides) Params {
	if o.Alpha != nil {
		p.Alpha = *o.Alpha
	}
	if o.Beta != nil {
		p.Beta = *o.Beta
	}
	if o.Gamma != nil {
		p.Gamma = *o.Gamma
	}
	if o.Cutoff != nil {
		p.Cutoff = Float(*o.Cutoff)
	}
	return p
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
