package connection

// Discoverer is the discoverability collaborator. A listener created with
// AllowDiscoverable advertises itself after a successful bind and withdraws
// before its handle is closed.
type Discoverer interface {
	Advertise(l *Listener) error
	Withdraw(l *Listener)
}
