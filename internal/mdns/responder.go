package mdns

import "fmt"

// Advertisement is the subset of a broker's own service record that would
// be registered over mDNS, kept here only so the surface below has
// something typed to accept — this engine never answers queries about
// itself.
//
// Registration is a deliberate no-op: the spec this engine serves never
// has a broker advertise itself over mDNS, so there is no probing,
// announcing, or conflict-renaming state machine to run. Responder exists
// only so callers that expect a register/unregister surface (mirroring the
// teacher's responder.Responder) have one to call, and so that dropping
// self-registration later has a single, obvious place to add it.
type Advertisement struct {
	InstanceName string
	Scope        string
	Port         uint16
	TXT          BrokerTXTInfo
}

// Responder is a no-op registration surface. Register and Unregister never
// touch the network; Registered exists for callers and tests that want to
// assert what would have been advertised.
type Responder struct {
	registered map[string]Advertisement
}

// NewResponder returns a Responder with nothing registered.
func NewResponder() *Responder {
	return &Responder{registered: make(map[string]Advertisement)}
}

// Register records adv as advertised, without sending anything. Returns an
// error only if an advertisement under the same instance name already
// exists, matching the teacher's conflict-is-an-error contract even though
// this implementation never actually probes for a real conflict.
func (r *Responder) Register(adv Advertisement) error {
	if _, exists := r.registered[adv.InstanceName]; exists {
		return fmt.Errorf("mdns: %q already registered", adv.InstanceName)
	}
	r.registered[adv.InstanceName] = adv
	return nil
}

// Unregister forgets instanceName. It is not an error to unregister
// something that was never registered.
func (r *Responder) Unregister(instanceName string) {
	delete(r.registered, instanceName)
}

// Registered reports whether instanceName is currently registered.
func (r *Responder) Registered(instanceName string) (Advertisement, bool) {
	adv, ok := r.registered[instanceName]
	return adv, ok
}
