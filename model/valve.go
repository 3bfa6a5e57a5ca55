package model

// Default port names used by binary piping devices when a definition
// leaves them empty.
const (
	DefaultInletName  = "inlet"
	DefaultOutletName = "outlet"
)

// ValveDefinition is the component state of a manual gas valve. The
// two port names are looked up in the pipe network on every command and
// every tick; the nodes behind them are never cached here.
type ValveDefinition struct {
	ID         string `json:"id" validate:"required"`
	InletName  string `json:"inlet"`
	OutletName string `json:"outlet"`

	// Open only changes through an explicit Set command.
	Open bool `json:"open"`
}

// WithDefaults returns a copy of v with empty port names replaced by
// DefaultInletName / DefaultOutletName.
func (v ValveDefinition) WithDefaults() ValveDefinition {
	if v.InletName == "" {
		v.InletName = DefaultInletName
	}
	if v.OutletName == "" {
		v.OutletName = DefaultOutletName
	}
	return v
}

// Ports returns the inlet and outlet names in wiring order.
func (v ValveDefinition) Ports() []string {
	return []string{v.InletName, v.OutletName}
}
