package main

// BusIDResolver supplies the discrete GPU's X.org BusID for one operation.
type BusIDResolver interface {
	DiscreteGPUBusID() (string, error)
}

// LiveProbe reads the BusID from lspci. It is only valid while the system
// is in hybrid mode; Hybrid records what was observed when it was chosen.
type LiveProbe struct {
	Probe  HardwareProbe
	Hybrid bool
}

func (l LiveProbe) DiscreteGPUBusID() (string, error) {
	if !l.Hybrid {
		return "", ErrNoCacheNoHybrid
	}
	return l.Probe.DiscreteGPUBusID()
}

// CachedValue returns a BusID captured earlier in hybrid mode.
type CachedValue string

func (c CachedValue) DiscreteGPUBusID() (string, error) {
	return string(c), nil
}
