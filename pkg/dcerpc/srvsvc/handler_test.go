package srvsvc

import (
	"context"
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittocifs/pkg/dcerpc"
)

type fakeProvider struct {
	shares []Share
	conns  []Connection
	server ServerDetails
	asked  string
}

func (f *fakeProvider) Shares() []Share { return f.shares }

func (f *fakeProvider) Connections(q string) []Connection {
	f.asked = q
	if q == "" {
		return f.conns
	}
	var out []Connection
	for _, c := range f.conns {
		if strings.EqualFold(c.Share, q) || `\\`+c.Client == q {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeProvider) Server() ServerDetails { return f.server }

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestHandler() (*Handler, *fakeProvider) {
	p := &fakeProvider{
		shares: []Share{
			{Name: "IPC$", Type: STypeIPC | STypeSpecial, Comment: "Remote IPC"},
			{Name: "public", Type: STypeDiskTree, Comment: "Public files", Path: `C:\srv\public`},
			{Name: "backup", Type: STypeDiskTree, Path: `C:\srv\backup`, MaxUses: 4, CurrentUses: 1},
		},
		conns: []Connection{
			{ID: 1, Share: "public", User: "alice", Client: "WS01", Opens: 3, Connected: epoch.Add(-90 * time.Second)},
			{ID: 2, Share: "backup", User: "bob", Client: "WS02"},
		},
		server: ServerDetails{Name: "FILESRV", Comment: "file server", VersionMajor: 6, VersionMinor: 1},
	}
	h := NewHandler(p)
	h.now = func() time.Time { return epoch }
	return h, p
}

func shareEnumStub(level uint32, resume *uint32) []byte {
	b := dcerpc.NewBuffer(64)
	b.PutPointer(true)
	b.PutString(`\\FILESRV`)
	b.PutInt(level)
	b.PutInt(level)
	b.PutPointer(true) // empty container
	b.PutInt(0)
	b.PutPointer(false)
	b.PutInt(0xFFFFFFFF)
	b.PutPointer(resume != nil)
	if resume != nil {
		b.PutInt(*resume)
	}
	return b.Bytes()
}

func shareGetInfoStub(name string, level uint32) []byte {
	b := dcerpc.NewBuffer(64)
	b.PutPointer(false)
	b.PutString(name)
	b.PutInt(level)
	return b.Bytes()
}

func TestShareEnum(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler()

	out, err := h.Invoke(context.Background(), OpNetrShareEnum, shareEnumStub(ShareLevel1, nil))
	require.NoError(t, err)

	res, err := ParseShareEnumResponse(out)
	require.NoError(t, err)
	assert.Equal(t, NerrSuccess, res.Status)
	assert.Equal(t, uint32(3), res.TotalEntries)
	require.Equal(t, 3, res.Shares.Len())
	assert.Equal(t, "IPC$", res.Shares.GetShare(0).Name)
	assert.Equal(t, "Remote IPC", res.Shares.GetShare(0).Comment)
	assert.Equal(t, "public", res.Shares.GetShare(1).Name)
	assert.Equal(t, STypeDiskTree, res.Shares.GetShare(1).Type)
}

func TestShareEnumLevel2Details(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler()

	out, err := h.Invoke(context.Background(), OpNetrShareEnum, shareEnumStub(ShareLevel2, nil))
	require.NoError(t, err)
	res, err := ParseShareEnumResponse(out)
	require.NoError(t, err)

	public := res.Shares.GetShare(1)
	assert.Equal(t, `C:\srv\public`, public.Path)
	assert.Equal(t, uint32(0xFFFFFFFF), public.MaxUses, "zero means unlimited")

	backup := res.Shares.GetShare(2)
	assert.Equal(t, uint32(4), backup.MaxUses)
	assert.Equal(t, uint32(1), backup.CurrentUses)
}

func TestShareEnumResume(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler()

	resume := uint32(2)
	out, err := h.Invoke(context.Background(), OpNetrShareEnum, shareEnumStub(ShareLevel0, &resume))
	require.NoError(t, err)
	res, err := ParseShareEnumResponse(out)
	require.NoError(t, err)
	require.Equal(t, 1, res.Shares.Len())
	assert.Equal(t, "backup", res.Shares.GetShare(0).Name)
	assert.Equal(t, uint32(3), res.TotalEntries)
}

func TestShareEnumInvalidLevel(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler()

	b := dcerpc.NewBuffer(64)
	b.PutPointer(false)
	b.PutInt(7)
	b.PutInt(7)
	b.PutPointer(false)
	b.PutInt(0xFFFFFFFF)
	b.PutPointer(false)

	out, err := h.Invoke(context.Background(), OpNetrShareEnum, b.Bytes())
	require.NoError(t, err)

	r := dcerpc.NewReadBuffer(out)
	assert.Equal(t, uint32(7), r.GetInt())
	assert.Equal(t, uint32(7), r.GetInt())
	assert.False(t, r.GetPointer())
	assert.Zero(t, r.GetInt())
	assert.False(t, r.GetPointer())
	assert.Equal(t, ErrorInvalidLevel, r.GetInt())
	require.NoError(t, r.Err())
}

func TestShareEnumTruncatedRequest(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler()

	stub := shareEnumStub(ShareLevel1, nil)
	_, err := h.Invoke(context.Background(), OpNetrShareEnum, stub[:len(stub)-6])
	require.Error(t, err)
	assert.ErrorIs(t, err, dcerpc.ErrBuffer)
}

func TestShareGetInfo(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler()

	t.Run("found case-insensitive", func(t *testing.T) {
		out, err := h.Invoke(context.Background(), OpNetrShareGetInfo, shareGetInfoStub("PUBLIC", ShareLevel502))
		require.NoError(t, err)
		info, status, err := ParseShareGetInfoResponse(out)
		require.NoError(t, err)
		assert.Equal(t, NerrSuccess, status)
		require.NotNil(t, info)
		assert.Equal(t, "public", info.Name)
		assert.Equal(t, "Public files", info.Comment)
		assert.Equal(t, `C:\srv\public`, info.Path)
	})

	t.Run("not found", func(t *testing.T) {
		out, err := h.Invoke(context.Background(), OpNetrShareGetInfo, shareGetInfoStub("missing", ShareLevel1))
		require.NoError(t, err)
		info, status, err := ParseShareGetInfoResponse(out)
		require.NoError(t, err)
		assert.Nil(t, info)
		assert.Equal(t, NerrNetNameNotFound, status)
	})

	t.Run("invalid level", func(t *testing.T) {
		out, err := h.Invoke(context.Background(), OpNetrShareGetInfo, shareGetInfoStub("public", 42))
		require.NoError(t, err)
		info, status, err := ParseShareGetInfoResponse(out)
		require.NoError(t, err)
		assert.Nil(t, info)
		assert.Equal(t, ErrorInvalidLevel, status)
	})
}

func TestServerGetInfo(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler()

	b := dcerpc.NewBuffer(32)
	b.PutPointer(true)
	b.PutString("FILESRV")
	b.PutInt(ServerLevel101)

	out, err := h.Invoke(context.Background(), OpNetrServerGetInfo, b.Bytes())
	require.NoError(t, err)

	r := dcerpc.NewReadBuffer(out)
	assert.Equal(t, ServerLevel101, r.GetInt())
	require.True(t, r.GetPointer())
	info := &ServerInfo{Level: ServerLevel101}
	require.NoError(t, info.ReadObject(r))
	require.NoError(t, info.ReadStrings(r))
	assert.Equal(t, NerrSuccess, r.GetInt())

	assert.Equal(t, PlatformIDNT, info.PlatformID)
	assert.Equal(t, "FILESRV", info.Name)
	assert.Equal(t, "file server", info.Comment)
	assert.Equal(t, uint32(6), info.VersionMajor)
	assert.NotZero(t, info.Type&SVTypeServer)
}

func connectionEnumStub(qualifier string, level uint32) []byte {
	b := dcerpc.NewBuffer(64)
	b.PutPointer(false)
	b.PutPointer(qualifier != "")
	if qualifier != "" {
		b.PutString(qualifier)
	}
	b.PutInt(level)
	b.PutInt(level)
	b.PutPointer(true)
	b.PutInt(0)
	b.PutPointer(false)
	b.PutInt(0xFFFFFFFF)
	b.PutPointer(false)
	return b.Bytes()
}

func decodeConnections(t *testing.T, out []byte, level uint32) (*ConnectionInfoList, uint32) {
	t.Helper()
	r := dcerpc.NewReadBuffer(out)
	r.GetInt()
	r.GetInt()
	require.True(t, r.GetPointer())
	list, err := NewConnectionInfoList(level)
	require.NoError(t, err)
	require.NoError(t, list.Decode(r))
	r.GetInt()
	r.GetPointer()
	status := r.GetInt()
	require.NoError(t, r.Err())
	return list, status
}

func TestConnectionEnum(t *testing.T) {
	t.Parallel()

	t.Run("all connections", func(t *testing.T) {
		h, p := newTestHandler()
		out, err := h.Invoke(context.Background(), OpNetrConnectionEnum, connectionEnumStub("", ConnectionLevel1))
		require.NoError(t, err)
		list, status := decodeConnections(t, out, ConnectionLevel1)
		assert.Equal(t, NerrSuccess, status)
		assert.Empty(t, p.asked)
		require.Equal(t, 2, list.Len())

		first, _ := list.Get(0)
		assert.Equal(t, "alice", first.UserName)
		assert.Equal(t, "public", first.NetName)
		assert.Equal(t, uint32(3), first.NumOpens)
		assert.Equal(t, uint32(90), first.Time)

		second, _ := list.Get(1)
		assert.Zero(t, second.Time, "unknown start time")
	})

	t.Run("share qualifier reports client", func(t *testing.T) {
		h, p := newTestHandler()
		out, err := h.Invoke(context.Background(), OpNetrConnectionEnum, connectionEnumStub("backup", ConnectionLevel1))
		require.NoError(t, err)
		list, _ := decodeConnections(t, out, ConnectionLevel1)
		assert.Equal(t, "backup", p.asked)
		require.Equal(t, 1, list.Len())
		c, _ := list.Get(0)
		assert.Equal(t, "WS02", c.NetName)
	})

	t.Run("client qualifier reports share", func(t *testing.T) {
		h, _ := newTestHandler()
		out, err := h.Invoke(context.Background(), OpNetrConnectionEnum, connectionEnumStub(`\\WS01`, ConnectionLevel1))
		require.NoError(t, err)
		list, _ := decodeConnections(t, out, ConnectionLevel1)
		require.Equal(t, 1, list.Len())
		c, _ := list.Get(0)
		assert.Equal(t, "public", c.NetName)
	})
}

func TestUnknownOpnum(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler()

	_, err := h.Invoke(context.Background(), 99, nil)
	assert.ErrorIs(t, err, dcerpc.ErrUnknownOpnum)
}

// ============================================================================
// End to end over a named pipe
// ============================================================================

func bindPDU(callID uint32, abstract dcerpc.SyntaxID) []byte {
	b := dcerpc.NewBuffer(72)
	b.PutBytes([]byte{5, 0, dcerpc.PDUBind, dcerpc.FlagFirstFrag | dcerpc.FlagLastFrag, 0x10, 0, 0, 0})
	b.PutShort(0)
	b.PutShort(0)
	b.PutInt(callID)
	b.PutShort(4280)
	b.PutShort(4280)
	b.PutInt(0)
	b.PutByte(1)
	b.PutBytes([]byte{0, 0, 0})
	b.PutShort(0)
	b.PutByte(1)
	b.PutByte(0)
	b.PutUUID(abstract.UUID)
	b.PutInt(abstract.Version)
	b.PutUUID(dcerpc.NDRSyntax.UUID)
	b.PutInt(dcerpc.NDRSyntax.Version)
	data := b.Bytes()
	binary.LittleEndian.PutUint16(data[8:], uint16(len(data)))
	return data
}

func requestPDU(callID uint32, opnum uint16, stub []byte) []byte {
	b := dcerpc.NewBuffer(24 + len(stub))
	b.PutBytes([]byte{5, 0, dcerpc.PDURequest, dcerpc.FlagFirstFrag | dcerpc.FlagLastFrag, 0x10, 0, 0, 0})
	b.PutShort(uint16(24 + len(stub)))
	b.PutShort(0)
	b.PutInt(callID)
	b.PutInt(uint32(len(stub)))
	b.PutShort(0)
	b.PutShort(opnum)
	b.PutBytes(stub)
	return b.Bytes()
}

func TestPipeShareEnum(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler()

	pm := dcerpc.NewPipeManager()
	pm.Register("srvsvc", h)
	require.True(t, pm.IsSupported(`\PIPE\srvsvc`))

	fid := [16]byte{1}
	pipe, ok := pm.Open(fid, "srvsvc")
	require.True(t, ok)
	defer pm.Close(fid)

	ctx := context.Background()
	ack, err := pipe.Transact(ctx, bindPDU(1, Syntax), 4280)
	require.NoError(t, err)
	require.NotEmpty(t, ack)
	assert.Equal(t, dcerpc.PDUBindAck, ack[2])
	assert.True(t, pipe.Bound())

	require.NoError(t, pipe.Write(ctx, requestPDU(2, OpNetrShareEnum, shareEnumStub(ShareLevel1, nil))))
	resp := pipe.Read(65536)
	require.GreaterOrEqual(t, len(resp), 24)
	assert.Equal(t, dcerpc.PDUResponse, resp[2])
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(resp[12:]))

	res, err := ParseShareEnumResponse(resp[24:])
	require.NoError(t, err)
	assert.Equal(t, 3, res.Shares.Len())

	// unknown opnum faults with nca_op_rng_error
	fault, err := pipe.Transact(ctx, requestPDU(3, 77, nil), 4280)
	require.NoError(t, err)
	assert.Equal(t, dcerpc.PDUFault, fault[2])
	assert.Equal(t, uint32(dcerpc.FaultOpRangeError), binary.LittleEndian.Uint32(fault[24:]))
}

func TestPipeRequestBeforeBind(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler()

	pipe := dcerpc.NewPipe("srvsvc", h)
	out, err := pipe.Transact(context.Background(), requestPDU(1, OpNetrShareEnum, shareEnumStub(ShareLevel0, nil)), 1024)
	require.NoError(t, err)
	assert.Equal(t, dcerpc.PDUFault, out[2])
	assert.Equal(t, uint32(dcerpc.FaultProtoError), binary.LittleEndian.Uint32(out[24:]))
}
