package server

import (
	"context"

	"github.com/marmos91/dittocifs/internal/logger"
	"github.com/marmos91/dittocifs/internal/wire"
	"github.com/marmos91/dittocifs/pkg/smb/header"
	"github.com/marmos91/dittocifs/pkg/smb/types"
)

const (
	readRequestSize   = 49
	readResponseSize  = 17
	writeRequestSize  = 49
	writeResponseSize = 17
	ioctlRequestSize  = 57
	ioctlResponseSize = 49

	// body offset of data following the 16-byte READ response header
	readDataOffset = header.Size + 16
	// body offset of output following the 48-byte IOCTL response header
	ioctlOutputOffset = header.Size + 48
)

// pipeFor resolves a FileID that must name an open pipe.
func (s *Server) pipeFor(req *request, raw []byte) (*openFile, error) {
	f, err := s.fileFor(req, raw)
	if err != nil {
		return nil, err
	}
	if f.pipe == nil {
		return nil, statusErr(types.StatusNotSupported, "%s on a disk file", req.hdr.Command)
	}
	return f, nil
}

// handleRead drains queued RPC replies from a pipe [MS-SMB2 3.3.5.12].
func handleRead(ctx context.Context, s *Server, req *request) ([]byte, error) {
	r := wire.LE(req.body)
	r.ExpectUint16(readRequestSize)
	r.Skip(2)
	length := r.Uint32()
	r.Skip(8) // offset, meaningless on pipes
	raw := r.Bytes(16)
	if err := r.Err(); err != nil {
		return nil, malformed(req.hdr.Command, "%v", err)
	}
	if length > maxTransactSize {
		return nil, statusErr(types.StatusInvalidParameter, "read of %d bytes", length)
	}

	f, err := s.pipeFor(req, raw)
	if err != nil {
		return nil, err
	}
	data := f.pipe.Read(int(length))
	if len(data) == 0 {
		return nil, statusErr(types.StatusEndOfFile, "pipe %s empty", f.pipe.Name())
	}
	if f.pipe.Pending() > 0 {
		req.status = types.StatusBufferOverflow
	}
	logger.DebugCtx(ctx, "Pipe read", logger.KeyPipe, f.pipe.Name(), logger.KeyBytesRead, len(data))

	w := wire.NewLEWriter(16 + len(data))
	w.Uint16(readResponseSize)
	w.Uint8(readDataOffset)
	w.Uint8(0)
	w.Uint32(uint32(len(data)))
	w.Uint32(0)
	w.Uint32(0)
	w.Bytes(data)
	return w.Data(), nil
}

// handleWrite feeds one RPC PDU to a pipe [MS-SMB2 3.3.5.13].
func handleWrite(ctx context.Context, s *Server, req *request) ([]byte, error) {
	r := wire.LE(req.body)
	r.ExpectUint16(writeRequestSize)
	dataOffset := int(r.Uint16())
	length := int(r.Uint32())
	r.Skip(8)
	raw := r.Bytes(16)
	if err := r.Err(); err != nil {
		return nil, malformed(req.hdr.Command, "%v", err)
	}

	start := dataOffset - header.Size
	if start < 48 || start+length > len(req.body) {
		return nil, malformed(req.hdr.Command, "data %d+%d outside body", dataOffset, length)
	}

	f, err := s.pipeFor(req, raw)
	if err != nil {
		return nil, err
	}
	if err := f.pipe.Write(ctx, req.body[start:start+length]); err != nil {
		return nil, err
	}
	logger.DebugCtx(ctx, "Pipe write", logger.KeyPipe, f.pipe.Name(), logger.KeyBytesWritten, length)

	w := wire.NewLEWriter(16)
	w.Uint16(writeResponseSize)
	w.Uint16(0)
	w.Uint32(uint32(length))
	w.Uint32(0)
	w.Uint32(0)
	return w.Data(), nil
}

// handleIoctl serves FSCTL_PIPE_TRANSCEIVE, a write and read of one RPC
// exchange in a single round trip [MS-SMB2 3.3.5.15.4].
func handleIoctl(ctx context.Context, s *Server, req *request) ([]byte, error) {
	r := wire.LE(req.body)
	r.ExpectUint16(ioctlRequestSize)
	r.Skip(2)
	ctlCode := r.Uint32()
	raw := r.Bytes(16)
	inOffset := int(r.Uint32())
	inCount := int(r.Uint32())
	r.Skip(12) // max input response, output offset, output count
	maxOutput := r.Uint32()
	flags := r.Uint32()
	if err := r.Err(); err != nil {
		return nil, malformed(req.hdr.Command, "%v", err)
	}

	if ctlCode != types.FsctlPipeTransceive {
		return nil, statusErr(types.StatusNotSupported, "ctl code 0x%08x", ctlCode)
	}
	if flags&types.IoctlIsFsctl == 0 {
		return nil, statusErr(types.StatusInvalidParameter, "transceive without FSCTL flag")
	}

	start := inOffset - header.Size
	if inCount == 0 || start < 56 || start+inCount > len(req.body) {
		return nil, malformed(req.hdr.Command, "input %d+%d outside body", inOffset, inCount)
	}

	f, err := s.pipeFor(req, raw)
	if err != nil {
		return nil, err
	}
	out, err := f.pipe.Transact(ctx, req.body[start:start+inCount], int(min(maxOutput, maxTransactSize)))
	if err != nil {
		return nil, err
	}
	if f.pipe.Pending() > 0 {
		req.status = types.StatusBufferOverflow
	}
	req.outFileID = f.id
	logger.DebugCtx(ctx, "Pipe transceive", logger.KeyPipe, f.pipe.Name(),
		logger.KeyBytesRead, inCount, logger.KeyBytesWritten, len(out))

	w := wire.NewLEWriter(48 + len(out))
	w.Uint16(ioctlResponseSize)
	w.Uint16(0)
	w.Uint32(ctlCode)
	w.Bytes(f.id[:])
	w.Uint32(ioctlOutputOffset) // input offset
	w.Uint32(0)
	w.Uint32(ioctlOutputOffset)
	w.Uint32(uint32(len(out)))
	w.Uint32(0)
	w.Uint32(0)
	w.Bytes(out)
	return w.Data(), nil
}
