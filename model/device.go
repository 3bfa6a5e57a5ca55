package model

// PipeDevice is any piece of atmos equipment that owns pipe ports:
// tanks, vents, pipe segments, valves. Each port is backed by one node
// in the pipe network once the device is wired.
type PipeDevice struct {
	ID    string   `json:"id" validate:"required"`
	Name  string   `json:"name,omitempty"`
	Ports []string `json:"ports" validate:"required,min=1,dive,required"`

	// Pressure optionally seeds the gas pressure (kPa) of individual ports.
	Pressure map[string]float64 `json:"pressure,omitempty" validate:"omitempty,dive,gte=0"`
}

// PortRef names one port on one device.
type PortRef struct {
	Device string `json:"device" validate:"required"`
	Port   string `json:"port" validate:"required"`
}

// String renders the reference as "device:port".
func (p PortRef) String() string {
	return p.Device + ":" + p.Port
}
