package metrics

import (
	"github.com/marmos91/dittocifs/pkg/netbios"
)

// NetBIOSMetrics provides observability for the NetBIOS name service.
type NetBIOSMetrics interface {
	// RecordNameEvent counts one name table transition.
	//
	// Parameters:
	//   - status: Event status, e.g. "AddSuccess", "AddDuplicate"
	//   - group: Whether the name is a group name
	RecordNameEvent(status string, group bool)

	// SetRegisteredNames updates the number of names held by the table.
	SetRegisteredNames(count int)
}

// NameListener returns a netbios.Listener that feeds m from events on
// table. It returns nil when m is nil so callers can skip registration.
func NameListener(m NetBIOSMetrics, table *netbios.NameTable) netbios.Listener {
	if m == nil {
		return nil
	}
	return netbios.ListenerFunc(func(ev netbios.NameEvent) {
		m.RecordNameEvent(ev.Status.String(), ev.Name.Group)
		m.SetRegisteredNames(table.Len())
	})
}
