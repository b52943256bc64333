package srvsvc

import (
	"github.com/google/uuid"

	"github.com/marmos91/dittocifs/pkg/dcerpc"
)

// Syntax is the SRVSVC interface identifier, version 3.0.
var Syntax = dcerpc.SyntaxID{
	UUID:    uuid.MustParse("4b324fc8-1670-01d3-1278-5a47bf6ee188"),
	Version: 3,
}

// Operation numbers [MS-SRVS 3.1.4].
const (
	OpNetrConnectionEnum uint16 = 8
	OpNetrShareEnum      uint16 = 15
	OpNetrShareGetInfo   uint16 = 16
	OpNetrServerGetInfo  uint16 = 21
)

// Share types [MS-SRVS 2.2.2.4].
const (
	STypeDiskTree  uint32 = 0x00000000
	STypePrintQ    uint32 = 0x00000001
	STypeDevice    uint32 = 0x00000002
	STypeIPC       uint32 = 0x00000003
	STypeTemporary uint32 = 0x40000000
	STypeSpecial   uint32 = 0x80000000
)

// Return codes.
const (
	NerrSuccess           uint32 = 0
	ErrorAccessDenied     uint32 = 5
	ErrorInvalidParameter uint32 = 87
	ErrorInvalidLevel     uint32 = 124
	ErrorMoreData         uint32 = 234
	NerrNetNameNotFound   uint32 = 2310
)

// Platform and server type values for SERVER_INFO_10x.
const (
	PlatformIDNT uint32 = 500

	SVTypeWorkstation uint32 = 0x00000001
	SVTypeServer      uint32 = 0x00000002
	SVTypeNT          uint32 = 0x00001000
)

// ShareFlags (shi1005_flags) caching modes.
const (
	CSCManualReintegration uint32 = 0x0000
	CSCNoCaching           uint32 = 0x0030
)
