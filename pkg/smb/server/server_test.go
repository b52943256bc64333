package server

import (
	"context"
	"encoding/binary"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittocifs/internal/wire"
	"github.com/marmos91/dittocifs/pkg/dcerpc"
	"github.com/marmos91/dittocifs/pkg/dcerpc/srvsvc"
	"github.com/marmos91/dittocifs/pkg/device"
	"github.com/marmos91/dittocifs/pkg/device/disk"
	"github.com/marmos91/dittocifs/pkg/device/memory"
	"github.com/marmos91/dittocifs/pkg/locking"
	"github.com/marmos91/dittocifs/pkg/platform"
	"github.com/marmos91/dittocifs/pkg/registry"
	"github.com/marmos91/dittocifs/pkg/smb/header"
	"github.com/marmos91/dittocifs/pkg/smb/session"
	"github.com/marmos91/dittocifs/pkg/smb/types"
)

// ============================================================================
// Fixture
// ============================================================================

// countingDevice wraps a real driver and counts lifecycle callbacks.
type countingDevice struct {
	device.Device
	opened atomic.Int32
	closed atomic.Int32
}

func (d *countingDevice) TreeOpened(s device.SessionInfo, t device.TreeInfo) {
	d.opened.Add(1)
	d.Device.TreeOpened(s, t)
}

func (d *countingDevice) TreeClosed(s device.SessionInfo, t device.TreeInfo) {
	d.closed.Add(1)
	d.Device.TreeClosed(s, t)
}

type fixture struct {
	srv      *Server
	sessions *session.Manager
	locks    *locking.Manager
	mem      *countingDevice
	disk     *countingDevice
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		mem:  &countingDevice{Device: memory.New()},
		disk: &countingDevice{Device: disk.New(platform.Noop{})},
	}
	drivers := device.NewDrivers()
	drivers.Register(memory.DriverName, func(device.Options) device.Device { return f.mem })
	drivers.Register(disk.DriverName, func(device.Options) device.Device { return f.disk })

	reg := registry.NewRegistry(drivers, platform.Noop{})
	require.NoError(t, reg.AddShare(&registry.ShareConfig{Name: "scratch", Driver: "memory", Comment: "scratch space"}))
	require.NoError(t, reg.AddShare(&registry.ShareConfig{Name: "files", Driver: "disk", Params: "path=" + t.TempDir()}))
	require.NoError(t, reg.AddShare(&registry.ShareConfig{Name: "nopath", Driver: "disk"}))
	require.NoError(t, reg.AddShare(&registry.ShareConfig{Name: "secret$", Driver: "memory", Hidden: true}))

	f.locks = locking.NewManager(nil)
	f.sessions = session.NewManager(reg, f.locks, nil, nil)
	f.srv = New(Config{
		ServerName: "testsrv",
		Comment:    "test server",
		Timeouts: TimeoutsConfig{
			Read:     5 * time.Second,
			Write:    5 * time.Second,
			Idle:     5 * time.Second,
			Shutdown: 2 * time.Second,
		},
	}, Deps{Registry: reg, Sessions: f.sessions, Locks: f.locks})
	return f
}

// ============================================================================
// Test client
// ============================================================================

type client struct {
	t         *testing.T
	conn      net.Conn
	msgID     uint64
	pid       uint32
	sessionID uint64
	treeID    uint32
}

// dial attaches a client to a connection served in the background.
func (f *fixture) dial(t *testing.T) *client {
	t.Helper()
	cliSide, srvSide := net.Pipe()
	c := newConnection(f.srv, srvSide)
	go c.serve(context.Background())
	t.Cleanup(func() { _ = cliSide.Close() })
	return &client{t: t, conn: cliSide, pid: 1}
}

func (c *client) header(cmd types.Command) *header.Header {
	c.msgID++
	return &header.Header{
		Command:   cmd,
		Credits:   1,
		MessageID: c.msgID,
		ProcessID: c.pid,
		SessionID: c.sessionID,
		TreeID:    c.treeID,
	}
}

func (c *client) writeFrame(payload []byte) {
	c.t.Helper()
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	_, err := c.conn.Write(frame)
	require.NoError(c.t, err)
}

func (c *client) readFrame() []byte {
	c.t.Helper()
	frame, err := readFrame(c.conn, 0, 5*time.Second, 5*time.Second)
	require.NoError(c.t, err)
	return frame
}

// call sends one command and returns the reply header and body.
func (c *client) call(cmd types.Command, body []byte) (*header.Header, []byte) {
	c.t.Helper()
	c.writeFrame(append(c.header(cmd).Encode(), body...))
	reply := c.readFrame()
	hdr, err := header.Parse(reply)
	require.NoError(c.t, err)
	require.True(c.t, hdr.Flags.IsResponse())
	require.Equal(c.t, cmd, hdr.Command)
	return hdr, reply[header.Size:]
}

func negotiateBody(dialects ...uint16) []byte {
	w := wire.NewLEWriter(64)
	w.Uint16(negotiateRequestSize)
	w.Uint16(uint16(len(dialects)))
	w.Uint16(types.NegotiateSigningEnabled)
	w.Uint16(0)
	w.Uint32(0)
	w.Zeros(16 + 8)
	for _, d := range dialects {
		w.Uint16(d)
	}
	return w.Data()
}

func sessionSetupBody() []byte {
	w := wire.NewLEWriter(24)
	w.Uint16(sessionSetupRequestSize)
	w.Zeros(10)
	w.Uint16(0)
	w.Uint16(0)
	w.Uint64(0)
	return w.Data()
}

func treeConnectBody(path string) []byte {
	w := wire.NewLEWriter(64)
	w.Uint16(treeConnectRequestSize)
	w.Uint16(0)
	w.Uint16(header.Size + 8)
	n := len([]rune(path)) * 2
	w.Uint16(uint16(n))
	w.UTF16(path)
	return w.Data()
}

func createBody(name string, disposition uint32) []byte {
	w := wire.NewLEWriter(128)
	w.Uint16(createRequestSize)
	w.Zeros(34)
	w.Uint32(disposition)
	w.Uint32(0)
	w.Uint16(header.Size + createFixedSize)
	w.Uint16(0) // patched below
	w.Uint32(0)
	w.Uint32(0)
	n := w.UTF16(name)
	w.PutUint16At(46, uint16(n))
	if n == 0 {
		w.Uint8(0)
	}
	return w.Data()
}

func closeBody(id FileID) []byte {
	w := wire.NewLEWriter(24)
	w.Uint16(closeRequestSize)
	w.Uint16(0)
	w.Uint32(0)
	w.Bytes(id[:])
	return w.Data()
}

func ioctlBody(id FileID, input []byte) []byte {
	w := wire.NewLEWriter(56 + len(input))
	w.Uint16(ioctlRequestSize)
	w.Uint16(0)
	w.Uint32(types.FsctlPipeTransceive)
	w.Bytes(id[:])
	w.Uint32(header.Size + 56)
	w.Uint32(uint32(len(input)))
	w.Uint32(0)
	w.Uint32(0)
	w.Uint32(0)
	w.Uint32(4280)
	w.Uint32(types.IoctlIsFsctl)
	w.Uint32(0)
	w.Bytes(input)
	return w.Data()
}

type lockRange struct {
	offset, length uint64
	flags          uint32
}

func lockBody(id FileID, ranges ...lockRange) []byte {
	w := wire.NewLEWriter(24 + 24*len(ranges))
	w.Uint16(lockRequestSize)
	w.Uint16(uint16(len(ranges)))
	w.Uint32(0)
	w.Bytes(id[:])
	for _, r := range ranges {
		w.Uint64(r.offset)
		w.Uint64(r.length)
		w.Uint32(r.flags)
		w.Uint32(0)
	}
	return w.Data()
}

// login negotiates and sets up a guest session.
func (c *client) login() {
	c.t.Helper()
	hdr, _ := c.call(types.CommandNegotiate, negotiateBody(types.Dialect0202))
	require.Equal(c.t, types.StatusSuccess, hdr.Status)
	hdr, _ = c.call(types.CommandSessionSetup, sessionSetupBody())
	require.Equal(c.t, types.StatusSuccess, hdr.Status)
	c.sessionID = hdr.SessionID
}

func (c *client) connect(share string) types.Status {
	c.t.Helper()
	hdr, _ := c.call(types.CommandTreeConnect, treeConnectBody(`\\TESTSRV\`+share))
	if hdr.Status == types.StatusSuccess {
		c.treeID = hdr.TreeID
	}
	return hdr.Status
}

func (c *client) create(name string, disposition uint32) (FileID, types.Status) {
	c.t.Helper()
	hdr, body := c.call(types.CommandCreate, createBody(name, disposition))
	var id FileID
	if hdr.Status == types.StatusSuccess {
		require.Len(c.t, body, createResponseSize)
		copy(id[:], body[64:80])
	}
	return id, hdr.Status
}

// ============================================================================
// Negotiate and session setup
// ============================================================================

func TestNegotiateSelectsDialect0202(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	hdr, body := c.call(types.CommandNegotiate, negotiateBody(types.Dialect0210, types.Dialect0202))
	require.Equal(t, types.StatusSuccess, hdr.Status)
	require.Len(t, body, negotiateResponseSize+1)
	assert.Equal(t, uint16(65), binary.LittleEndian.Uint16(body[0:]))
	assert.Equal(t, types.Dialect0202, binary.LittleEndian.Uint16(body[4:]))
	guid := f.srv.GUID()
	assert.Equal(t, guid[:], body[8:24])
	assert.Equal(t, uint32(maxTransactSize), binary.LittleEndian.Uint32(body[28:]))
	assert.GreaterOrEqual(t, hdr.Credits, uint16(1))
}

func TestNegotiateWithoutCommonDialect(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	hdr, body := c.call(types.CommandNegotiate, negotiateBody(types.Dialect0210))
	assert.Equal(t, types.StatusNotSupported, hdr.Status)
	assert.Len(t, body, 9)
}

func TestSMB1NegotiateUpgrade(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	dialects := []byte("\x02NT LM 0.12\x00\x02SMB 2.002\x00")
	smb1 := make([]byte, smb1HeaderSize)
	binary.LittleEndian.PutUint32(smb1, types.SMB1ProtocolID)
	smb1[4] = smb1Negotiate
	smb1 = append(smb1, 0, byte(len(dialects)), byte(len(dialects)>>8))
	smb1 = append(smb1, dialects...)

	c.writeFrame(smb1)
	reply := c.readFrame()
	hdr, err := header.Parse(reply)
	require.NoError(t, err)
	assert.Equal(t, types.CommandNegotiate, hdr.Command)
	assert.Equal(t, types.Dialect0202, binary.LittleEndian.Uint16(reply[header.Size+4:]))

	// the connection is now negotiated
	hdr, _ = c.call(types.CommandSessionSetup, sessionSetupBody())
	assert.Equal(t, types.StatusSuccess, hdr.Status)
}

func TestSessionSetupBeforeNegotiate(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	hdr, _ := c.call(types.CommandSessionSetup, sessionSetupBody())
	assert.Equal(t, types.StatusAccessDenied, hdr.Status)
	assert.Equal(t, 0, f.sessions.Count())
}

func TestSessionSetupCreatesGuestSession(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	c.login()

	require.NotZero(t, c.sessionID)
	sess, ok := f.sessions.GetSession(c.sessionID)
	require.True(t, ok)
	assert.True(t, sess.Guest)
	assert.Equal(t, session.GuestUser, sess.User)
}

func TestGuestDisabledRejectsLogon(t *testing.T) {
	f := newFixture(t)
	f.srv.auth = GuestAuthenticator{AllowGuest: false}
	c := f.dial(t)

	hdr, _ := c.call(types.CommandNegotiate, negotiateBody(types.Dialect0202))
	require.Equal(t, types.StatusSuccess, hdr.Status)
	hdr, _ = c.call(types.CommandSessionSetup, sessionSetupBody())
	assert.Equal(t, types.StatusLogonFailure, hdr.Status)
	assert.Equal(t, 0, f.sessions.Count())
}

func TestCommandsRequireSession(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	c.sessionID = 99

	hdr, _ := c.call(types.CommandTreeConnect, treeConnectBody(`\\TESTSRV\scratch`))
	assert.Equal(t, types.StatusUserSessionDeleted, hdr.Status)
}

func TestSessionOwnedByOtherConnection(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t)
	a.login()

	b := f.dial(t)
	b.sessionID = a.sessionID
	hdr, _ := b.call(types.CommandTreeConnect, treeConnectBody(`\\TESTSRV\scratch`))
	assert.Equal(t, types.StatusUserSessionDeleted, hdr.Status)
}

func TestEchoAndUnknownCommand(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	hdr, body := c.call(types.CommandEcho, []byte{4, 0, 0, 0})
	assert.Equal(t, types.StatusSuccess, hdr.Status)
	assert.Equal(t, []byte{4, 0, 0, 0}, body)

	hdr, _ = c.call(types.CommandQueryDirectory, make([]byte, 32))
	assert.Equal(t, types.StatusNotSupported, hdr.Status)
}

func TestLogoffClosesSession(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	c.login()
	require.Equal(t, types.StatusSuccess, c.connect("scratch"))

	hdr, _ := c.call(types.CommandLogoff, []byte{4, 0, 0, 0})
	assert.Equal(t, types.StatusSuccess, hdr.Status)
	assert.Equal(t, 0, f.sessions.Count())
	assert.Equal(t, int32(1), f.mem.closed.Load())
}

// ============================================================================
// Trees
// ============================================================================

func TestTreeConnectStatuses(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	c.login()

	tests := []struct {
		share string
		want  types.Status
	}{
		{"IPC$", types.StatusSuccess},
		{"scratch", types.StatusSuccess},
		{"SCRATCH", types.StatusSuccess},
		{"files", types.StatusSuccess},
		{"secret$", types.StatusSuccess},
		{"nopath", types.StatusBadNetworkName},
		{"missing", types.StatusBadNetworkName},
	}
	for _, tt := range tests {
		t.Run(tt.share, func(t *testing.T) {
			assert.Equal(t, tt.want, c.connect(tt.share))
		})
	}
	assert.Equal(t, int32(1), f.disk.opened.Load(), "nopath never reaches the device")
}

func TestTreeConnectResponseShareType(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	c.login()

	hdr, body := c.call(types.CommandTreeConnect, treeConnectBody(`\\TESTSRV\IPC$`))
	require.Equal(t, types.StatusSuccess, hdr.Status)
	require.Len(t, body, 16)
	assert.Equal(t, types.ShareTypePipe, body[2])
	assert.NotZero(t, hdr.TreeID)

	hdr, body = c.call(types.CommandTreeConnect, treeConnectBody(`\\TESTSRV\scratch`))
	require.Equal(t, types.StatusSuccess, hdr.Status)
	assert.Equal(t, types.ShareTypeDisk, body[2])
	assert.Equal(t, accessFull, binary.LittleEndian.Uint32(body[12:]))
}

func TestTreeDisconnect(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	c.login()
	require.Equal(t, types.StatusSuccess, c.connect("scratch"))
	_, st := c.create("notes.txt", types.FileOpenIf)
	require.Equal(t, types.StatusSuccess, st)

	hdr, _ := c.call(types.CommandTreeDisconnect, []byte{4, 0, 0, 0})
	assert.Equal(t, types.StatusSuccess, hdr.Status)
	assert.Equal(t, int32(1), f.mem.closed.Load())
	assert.Equal(t, 0, f.srv.OpenFiles())

	hdr, _ = c.call(types.CommandTreeDisconnect, []byte{4, 0, 0, 0})
	assert.Equal(t, types.StatusNetworkNameDeleted, hdr.Status)
}

// ============================================================================
// Files
// ============================================================================

func TestCreateDispositions(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	c.login()
	require.Equal(t, types.StatusSuccess, c.connect("scratch"))

	_, st := c.create("a.txt", types.FileOpen)
	assert.Equal(t, types.StatusObjectNameNotFound, st)

	hdr, body := c.call(types.CommandCreate, createBody("a.txt", types.FileCreate))
	require.Equal(t, types.StatusSuccess, hdr.Status)
	assert.Equal(t, types.FileCreated, binary.LittleEndian.Uint32(body[4:]))

	_, st = c.create("a.txt", types.FileCreate)
	assert.Equal(t, types.StatusObjectNameCollision, st)

	hdr, body = c.call(types.CommandCreate, createBody(`dir\..\a.txt`, types.FileOpenIf))
	require.Equal(t, types.StatusSuccess, hdr.Status)
	assert.Equal(t, types.FileOpened, binary.LittleEndian.Uint32(body[4:]))

	root, st := c.create("", types.FileOpen)
	require.Equal(t, types.StatusSuccess, st)

	sess, _ := f.sessions.GetSession(c.sessionID)
	assert.Equal(t, 3, sess.Opens())

	hdr, body = c.call(types.CommandClose, closeBody(root))
	assert.Equal(t, types.StatusSuccess, hdr.Status)
	assert.Len(t, body, closeResponseSize)
	assert.Equal(t, 2, sess.Opens())

	hdr, _ = c.call(types.CommandClose, closeBody(root))
	assert.Equal(t, types.StatusFileClosed, hdr.Status)
}

func TestCompoundCreateClose(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	c.login()
	require.Equal(t, types.StatusSuccess, c.connect("scratch"))

	first := append(c.header(types.CommandCreate).Encode(), createBody("chain.txt", types.FileOpenIf)...)
	for len(first)%8 != 0 {
		first = append(first, 0)
	}
	binary.LittleEndian.PutUint32(first[20:], uint32(len(first)))

	second := c.header(types.CommandClose)
	second.Flags = types.FlagRelatedOps
	frame := append(first, append(second.Encode(), closeBody(placeholderFileID)...)...)

	c.writeFrame(frame)
	reply := c.readFrame()

	h1, err := header.Parse(reply)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, h1.Status)
	require.NotZero(t, h1.NextCommand)
	assert.Zero(t, h1.NextCommand%8)

	h2, err := header.Parse(reply[h1.NextCommand:])
	require.NoError(t, err)
	assert.Equal(t, types.CommandClose, h2.Command)
	assert.Equal(t, types.StatusSuccess, h2.Status)
	assert.Zero(t, h2.NextCommand)
	assert.Equal(t, 0, f.srv.OpenFiles())
}

// ============================================================================
// IPC$ and SRVSVC
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

func shareEnumStub(level uint32) []byte {
	b := dcerpc.NewBuffer(64)
	b.PutPointer(true)
	b.PutString(`\\TESTSRV`)
	b.PutInt(level)
	b.PutInt(level)
	b.PutPointer(true)
	b.PutInt(0)
	b.PutPointer(false)
	b.PutInt(0xFFFFFFFF)
	b.PutPointer(false)
	return b.Bytes()
}

func (c *client) transceive(id FileID, pdu []byte) []byte {
	c.t.Helper()
	hdr, body := c.call(types.CommandIoctl, ioctlBody(id, pdu))
	require.Equal(c.t, types.StatusSuccess, hdr.Status)
	require.GreaterOrEqual(c.t, len(body), 48)
	n := binary.LittleEndian.Uint32(body[36:])
	require.Equal(c.t, uint32(ioctlOutputOffset), binary.LittleEndian.Uint32(body[32:]))
	return body[48 : 48+n]
}

func TestSrvsvcShareEnumOverIPC(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	c.login()
	require.Equal(t, types.StatusSuccess, c.connect("IPC$"))

	id, st := c.create("srvsvc", types.FileOpen)
	require.Equal(t, types.StatusSuccess, st)

	ack := c.transceive(id, bindPDU(1, srvsvc.Syntax))
	require.GreaterOrEqual(t, len(ack), 3)
	assert.Equal(t, dcerpc.PDUBindAck, ack[2])

	resp := c.transceive(id, requestPDU(2, srvsvc.OpNetrShareEnum, shareEnumStub(srvsvc.ShareLevel1)))
	require.Equal(t, dcerpc.PDUResponse, resp[2])
	res, err := srvsvc.ParseShareEnumResponse(resp[24:])
	require.NoError(t, err)

	var names []string
	for i := 0; i < res.Shares.Len(); i++ {
		names = append(names, res.Shares.GetShare(i).Name)
	}
	assert.Equal(t, []string{"files", "IPC$", "nopath", "scratch"}, names, "hidden shares are not enumerated")
	assert.Equal(t, srvsvc.STypeIPC|srvsvc.STypeSpecial, res.Shares.GetShare(1).Type)
}

func TestUnknownPipe(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	c.login()
	require.Equal(t, types.StatusSuccess, c.connect("IPC$"))

	_, st := c.create("winreg", types.FileOpen)
	assert.Equal(t, types.StatusObjectNameNotFound, st)
}

func TestPipeWriteRead(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	c.login()
	require.Equal(t, types.StatusSuccess, c.connect("IPC$"))
	id, st := c.create(`\PIPE\srvsvc`, types.FileOpen)
	require.Equal(t, types.StatusSuccess, st)

	pdu := bindPDU(7, srvsvc.Syntax)
	w := wire.NewLEWriter(48 + len(pdu))
	w.Uint16(writeRequestSize)
	w.Uint16(header.Size + 48)
	w.Uint32(uint32(len(pdu)))
	w.Uint64(0)
	w.Bytes(id[:])
	w.Zeros(16)
	w.Bytes(pdu)
	hdr, body := c.call(types.CommandWrite, w.Data())
	require.Equal(t, types.StatusSuccess, hdr.Status)
	assert.Equal(t, uint32(len(pdu)), binary.LittleEndian.Uint32(body[4:]))

	r := wire.NewLEWriter(49)
	r.Uint16(readRequestSize)
	r.Uint16(0)
	r.Uint32(4280)
	r.Uint64(0)
	r.Bytes(id[:])
	r.Zeros(17)
	hdr, body = c.call(types.CommandRead, r.Data())
	require.Equal(t, types.StatusSuccess, hdr.Status)
	n := binary.LittleEndian.Uint32(body[4:])
	require.NotZero(t, n)
	assert.Equal(t, dcerpc.PDUBindAck, body[16+2])

	hdr, _ = c.call(types.CommandRead, r.Data())
	assert.Equal(t, types.StatusEndOfFile, hdr.Status)
}

// ============================================================================
// Locks
// ============================================================================

func TestLockConflictStatuses(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	c.login()
	require.Equal(t, types.StatusSuccess, c.connect("scratch"))
	id, st := c.create("locked.db", types.FileOpenIf)
	require.Equal(t, types.StatusSuccess, st)

	lock := func(pid uint32, r lockRange) types.Status {
		c.pid = pid
		hdr, _ := c.call(types.CommandLock, lockBody(id, r))
		return hdr.Status
	}

	assert.Equal(t, types.StatusSuccess, lock(5, lockRange{0, 100, types.LockFlagExclusive}))
	assert.Equal(t, types.StatusLockNotGranted, lock(7, lockRange{50, 100, types.LockFlagExclusive}))
	assert.Equal(t, types.StatusSuccess, lock(5, lockRange{50, 100, types.LockFlagExclusive}))
	assert.Equal(t, 1, f.locks.Count(), "same pid extends to [0,150)")

	assert.Equal(t, types.StatusSuccess, lock(7, lockRange{200, 10, types.LockFlagExclusive}))
	assert.Equal(t, types.StatusRangeNotLocked, lock(7, lockRange{300, 10, types.LockFlagUnlock}))
	assert.Equal(t, types.StatusSuccess, lock(7, lockRange{200, 10, types.LockFlagUnlock}))
	assert.Equal(t, 1, f.locks.Count())
}

func TestLockRequestIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	c.login()
	require.Equal(t, types.StatusSuccess, c.connect("scratch"))
	id, st := c.create("batch.db", types.FileOpenIf)
	require.Equal(t, types.StatusSuccess, st)

	c.pid = 1
	hdr, _ := c.call(types.CommandLock, lockBody(id, lockRange{100, 10, types.LockFlagExclusive}))
	require.Equal(t, types.StatusSuccess, hdr.Status)

	c.pid = 2
	hdr, _ = c.call(types.CommandLock, lockBody(id,
		lockRange{0, 10, types.LockFlagExclusive},
		lockRange{105, 1, types.LockFlagExclusive},
	))
	assert.Equal(t, types.StatusLockNotGranted, hdr.Status)
	assert.Equal(t, 1, f.locks.Count())

	hdr, _ = c.call(types.CommandLock, lockBody(id,
		lockRange{0, 10, types.LockFlagExclusive},
		lockRange{20, 10, types.LockFlagUnlock},
	))
	assert.Equal(t, types.StatusInvalidParameter, hdr.Status)
}

func TestLockBatchFailureKeepsHeldRanges(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	c.login()
	require.Equal(t, types.StatusSuccess, c.connect("scratch"))
	id, st := c.create("batch.db", types.FileOpenIf)
	require.Equal(t, types.StatusSuccess, st)

	c.pid = 1
	hdr, _ := c.call(types.CommandLock, lockBody(id, lockRange{100, 10, types.LockFlagExclusive}))
	require.Equal(t, types.StatusSuccess, hdr.Status)
	c.pid = 2
	hdr, _ = c.call(types.CommandLock, lockBody(id, lockRange{0, 10, types.LockFlagExclusive}))
	require.Equal(t, types.StatusSuccess, hdr.Status)

	// [10,20) would merge with the held [0,10); the second element conflicts
	hdr, _ = c.call(types.CommandLock, lockBody(id,
		lockRange{10, 10, types.LockFlagExclusive},
		lockRange{105, 1, types.LockFlagExclusive},
	))
	require.Equal(t, types.StatusLockNotGranted, hdr.Status)

	snap := f.locks.Snapshot()
	require.Len(t, snap, 1)
	require.Len(t, snap[0].Locks, 2)
	assert.Equal(t, uint64(0), snap[0].Locks[0].Offset)
	assert.Equal(t, uint64(10), snap[0].Locks[0].Length)
	assert.Equal(t, uint32(2), snap[0].Locks[0].PID)
}

func TestZeroLengthLockConflictsWithNothing(t *testing.T) {
	f := newFixture(t)
	owner := f.dial(t)
	owner.login()
	require.Equal(t, types.StatusSuccess, owner.connect("scratch"))
	id, st := owner.create("point.db", types.FileOpenIf)
	require.Equal(t, types.StatusSuccess, st)

	hdr, _ := owner.call(types.CommandLock, lockBody(id, lockRange{10, 0, types.LockFlagExclusive}))
	require.Equal(t, types.StatusSuccess, hdr.Status)
	assert.Zero(t, f.locks.Count())

	other := f.dial(t)
	other.login()
	require.Equal(t, types.StatusSuccess, other.connect("scratch"))
	id2, st := other.create("point.db", types.FileOpenIf)
	require.Equal(t, types.StatusSuccess, st)
	hdr, _ = other.call(types.CommandLock, lockBody(id2, lockRange{0, 100, types.LockFlagExclusive}))
	assert.Equal(t, types.StatusSuccess, hdr.Status)

	hdr, _ = owner.call(types.CommandLock, lockBody(id, lockRange{10, 0, types.LockFlagUnlock}))
	assert.Equal(t, types.StatusSuccess, hdr.Status)
	hdr, _ = owner.call(types.CommandLock, lockBody(id, lockRange{10, 0, types.LockFlagUnlock}))
	assert.Equal(t, types.StatusRangeNotLocked, hdr.Status)
}

func TestCloseReleasesHandleLocks(t *testing.T) {
	f := newFixture(t)
	owner := f.dial(t)
	owner.login()
	require.Equal(t, types.StatusSuccess, owner.connect("scratch"))
	id, st := owner.create("shared.db", types.FileOpenIf)
	require.Equal(t, types.StatusSuccess, st)
	hdr, _ := owner.call(types.CommandLock, lockBody(id, lockRange{0, 100, types.LockFlagExclusive}))
	require.Equal(t, types.StatusSuccess, hdr.Status)

	other := f.dial(t)
	other.login()
	require.Equal(t, types.StatusSuccess, other.connect("scratch"))
	id2, st := other.create("shared.db", types.FileOpenIf)
	require.Equal(t, types.StatusSuccess, st)
	hdr, _ = other.call(types.CommandLock, lockBody(id2, lockRange{10, 10, types.LockFlagExclusive}))
	require.Equal(t, types.StatusLockNotGranted, hdr.Status)

	hdr, _ = owner.call(types.CommandClose, closeBody(id))
	require.Equal(t, types.StatusSuccess, hdr.Status)
	assert.Zero(t, f.locks.Count())

	hdr, _ = other.call(types.CommandLock, lockBody(id2, lockRange{10, 10, types.LockFlagExclusive}))
	assert.Equal(t, types.StatusSuccess, hdr.Status)
	assert.Equal(t, 1, f.locks.Count())
}

func TestTreeDisconnectReleasesHandleLocks(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	c.login()
	require.Equal(t, types.StatusSuccess, c.connect("scratch"))
	id, st := c.create("a.db", types.FileOpenIf)
	require.Equal(t, types.StatusSuccess, st)
	id2, st := c.create("b.db", types.FileOpenIf)
	require.Equal(t, types.StatusSuccess, st)

	hdr, _ := c.call(types.CommandLock, lockBody(id, lockRange{0, 10, types.LockFlagExclusive}))
	require.Equal(t, types.StatusSuccess, hdr.Status)
	c.pid = 9
	hdr, _ = c.call(types.CommandLock, lockBody(id2, lockRange{0, 10, types.LockFlagExclusive}))
	require.Equal(t, types.StatusSuccess, hdr.Status)
	require.Equal(t, 2, f.locks.Count())

	hdr, _ = c.call(types.CommandTreeDisconnect, []byte{4, 0, 0, 0})
	require.Equal(t, types.StatusSuccess, hdr.Status)
	assert.Zero(t, f.locks.Count())
	assert.Zero(t, f.locks.Files())

	// the session survives the tree
	_, ok := f.sessions.GetSession(c.sessionID)
	assert.True(t, ok)
}

// ============================================================================
// Disconnect
// ============================================================================

func TestAbnormalDisconnectReleasesEverything(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	c.login()

	// two trees, three locks
	require.Equal(t, types.StatusSuccess, c.connect("scratch"))
	id, st := c.create("one.db", types.FileOpenIf)
	require.Equal(t, types.StatusSuccess, st)
	hdr, _ := c.call(types.CommandLock, lockBody(id,
		lockRange{0, 10, types.LockFlagExclusive},
		lockRange{100, 10, types.LockFlagExclusive},
	))
	require.Equal(t, types.StatusSuccess, hdr.Status)

	require.Equal(t, types.StatusSuccess, c.connect("files"))
	id2, st := c.create("two.db", types.FileOpenIf)
	require.Equal(t, types.StatusSuccess, st)
	hdr, _ = c.call(types.CommandLock, lockBody(id2, lockRange{0, 50, types.LockFlagExclusive}))
	require.Equal(t, types.StatusSuccess, hdr.Status)

	sess, ok := f.sessions.GetSession(c.sessionID)
	require.True(t, ok)
	require.Len(t, sess.Trees(), 2)
	require.Equal(t, 3, f.locks.Count())
	require.Equal(t, int32(2), f.mem.opened.Load()+f.disk.opened.Load())

	require.NoError(t, c.conn.Close())

	require.Eventually(t, func() bool {
		return f.sessions.Count() == 0 && f.mem.closed.Load()+f.disk.closed.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.locks.Count())
	assert.Empty(t, sess.Trees())
	assert.Equal(t, 0, f.srv.OpenFiles())
	assert.Equal(t, int32(1), f.mem.closed.Load())
	assert.Equal(t, int32(1), f.disk.closed.Load())
	assert.Equal(t, int32(2), f.mem.closed.Load()+f.disk.closed.Load(), "TreeClosed once per tree")
	assert.Equal(t, 0, f.sessions.ShareUses("scratch"))
}

func TestServeListenerShutdown(t *testing.T) {
	f := newFixture(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.ServeListener(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	c := &client{t: t, conn: conn, pid: 1}
	c.login()
	require.Equal(t, types.StatusSuccess, c.connect("scratch"))
	require.Equal(t, 1, f.srv.ConnectionCount())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ServeListener did not return")
	}
	assert.Equal(t, 0, f.srv.ConnectionCount())
	assert.Equal(t, 0, f.sessions.Count())
	assert.Equal(t, int32(1), f.mem.closed.Load())
}
