// Package netbios implements the NetBIOS name service (RFC 1001/1002) for a
// broadcast (B-node) host: an in-memory name table with an event channel,
// the name service packet codec and a Service that registers, resolves,
// refreshes and defends names over a Transport.
//
// A local name moves through
//
//	Unregistered -> Registering -> Registered -> Refreshing -> Registered
//
// and drops back to Unregistered when registration fails or too many
// consecutive refreshes fail. Names learned from the network are recorded
// directly as Registered.
package netbios
