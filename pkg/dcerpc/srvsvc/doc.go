// Package srvsvc implements the subset of the Server Service Remote Protocol
// ([MS-SRVS]) that SMB clients use to browse a server: share enumeration,
// share lookup, server information and connection enumeration.
//
// Every info structure is a dcerpc.Object. A ShareInfo or ConnectionInfo
// carries its own info level, and the list constructors install a factory
// that stamps that level on every decoded element, so one list container
// serves all levels.
package srvsvc
