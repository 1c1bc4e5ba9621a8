package interfaces

// SignalSource is the external control surface polled by the system
// monitor. A raised signal is consumed (cleared) once acted upon.
type SignalSource interface {
	// Check reports whether the named signal is raised and returns any
	// payload left by the operator.
	Check(name string) (raised bool, payload string, err error)

	// Consume clears the named signal.
	Consume(name string) error
}
