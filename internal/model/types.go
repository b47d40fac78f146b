package model

import "fmt"

// Required feature names, in the order the service documents them.
const (
	FeatureOrbPer  = "orbper"
	FeatureTranDep = "trandep"
	FeatureTranDur = "trandur"
	FeatureRadE    = "rade"
	FeatureInsol   = "insol"
	FeatureEqT     = "eqt"
	FeatureTEff    = "teff"
	FeatureLogG    = "logg"
	FeatureRad     = "rad"
)

// RequiredFeatures lists every feature a record must carry to be scored.
var RequiredFeatures = []string{
	FeatureOrbPer,
	FeatureTranDep,
	FeatureTranDur,
	FeatureRadE,
	FeatureInsol,
	FeatureEqT,
	FeatureTEff,
	FeatureLogG,
	FeatureRad,
}

// Features is a validated transit observation.
type Features struct {
	OrbPer  float64 `json:"orbper"`  // orbital period, days
	TranDep float64 `json:"trandep"` // transit depth, ppm
	TranDur float64 `json:"trandur"` // transit duration, hours
	RadE    float64 `json:"rade"`    // planet radius, Earth radii
	Insol   float64 `json:"insol"`   // insolation flux, Earth flux
	EqT     float64 `json:"eqt"`     // equilibrium temperature, K
	TEff    float64 `json:"teff"`    // stellar effective temperature, K
	LogG    float64 `json:"logg"`    // stellar surface gravity, log10(cm/s^2)
	Rad     float64 `json:"rad"`     // stellar radius, Solar radii
}

// Value returns the named feature.
func (f Features) Value(name string) (float64, bool) {
	switch name {
	case FeatureOrbPer:
		return f.OrbPer, true
	case FeatureTranDep:
		return f.TranDep, true
	case FeatureTranDur:
		return f.TranDur, true
	case FeatureRadE:
		return f.RadE, true
	case FeatureInsol:
		return f.Insol, true
	case FeatureEqT:
		return f.EqT, true
	case FeatureTEff:
		return f.TEff, true
	case FeatureLogG:
		return f.LogG, true
	case FeatureRad:
		return f.Rad, true
	default:
		return 0, false
	}
}

// Set assigns the named feature.
func (f *Features) Set(name string, v float64) bool {
	switch name {
	case FeatureOrbPer:
		f.OrbPer = v
	case FeatureTranDep:
		f.TranDep = v
	case FeatureTranDur:
		f.TranDur = v
	case FeatureRadE:
		f.RadE = v
	case FeatureInsol:
		f.Insol = v
	case FeatureEqT:
		f.EqT = v
	case FeatureTEff:
		f.TEff = v
	case FeatureLogG:
		f.LogG = v
	case FeatureRad:
		f.Rad = v
	default:
		return false
	}
	return true
}

// Vector lays the features out in the given order as the model's input row.
func (f Features) Vector(order []string) ([]float32, error) {
	out := make([]float32, len(order))
	for i, name := range order {
		v, ok := f.Value(name)
		if !ok {
			return nil, fmt.Errorf("unknown model feature %q", name)
		}
		out[i] = float32(v)
	}
	return out, nil
}

// RawPrediction is what the classifier returns for one record.
type RawPrediction struct {
	Label              string             `json:"prediction"`
	ClassProbabilities map[string]float64 `json:"probabilities,omitempty"`
}

// Metadata describes an exported classifier artifact.
type Metadata struct {
	InputName  string   `json:"input_name"`
	OutputName string   `json:"output_name"`
	Features   []string `json:"features"`
	Classes    []string `json:"classes"`
}

func (m *Metadata) applyDefaults() {
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "probabilities"
	}
	if len(m.Features) == 0 {
		m.Features = append([]string(nil), RequiredFeatures...)
	}
}

// Validate checks the artifact can be driven by a Features value.
func (m *Metadata) Validate() error {
	if len(m.Classes) < 2 {
		return fmt.Errorf("metadata lists %d classes, need at least 2", len(m.Classes))
	}
	seen := make(map[string]bool, len(m.Features))
	for _, name := range m.Features {
		if _, ok := (Features{}).Value(name); !ok {
			return fmt.Errorf("metadata feature %q is not a known input", name)
		}
		if seen[name] {
			return fmt.Errorf("metadata feature %q listed twice", name)
		}
		seen[name] = true
	}
	for _, name := range RequiredFeatures {
		if !seen[name] {
			return fmt.Errorf("metadata is missing feature %q", name)
		}
	}
	return nil
}
