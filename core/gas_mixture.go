package core

// DefaultPipeVolume is the volume (litres) given to a pipe node's gas
// mixture when none is specified.
const DefaultPipeVolume = 200.0

// GasMixture is the gas held by one pipe node. The simulation treats it
// as opaque apart from pressure and volume; mixing math lives elsewhere.
type GasMixture struct {
	pressure float64 // kPa, never negative
	Volume   float64 // litres
}

// NewGasMixture returns a mixture with the default pipe volume at the
// given pressure.
func NewGasMixture(pressure float64) *GasMixture {
	g := &GasMixture{Volume: DefaultPipeVolume}
	g.SetPressure(pressure)
	return g
}

// Pressure returns the current pressure in kPa.
func (g *GasMixture) Pressure() float64 {
	if g == nil {
		return 0
	}
	return g.pressure
}

// SetPressure stores p, clamping negative values (and NaN) to zero.
func (g *GasMixture) SetPressure(p float64) {
	if g == nil {
		return
	}
	if !(p > 0) {
		p = 0
	}
	g.pressure = p
}

func (g *GasMixture) volume() float64 {
	if g == nil || g.Volume <= 0 {
		return DefaultPipeVolume
	}
	return g.Volume
}
