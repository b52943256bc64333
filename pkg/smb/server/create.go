package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/marmos91/dittocifs/internal/logger"
	"github.com/marmos91/dittocifs/internal/wire"
	"github.com/marmos91/dittocifs/pkg/device"
	"github.com/marmos91/dittocifs/pkg/smb/header"
	"github.com/marmos91/dittocifs/pkg/smb/types"
)

const (
	createRequestSize  = 57
	createFixedSize    = 56
	createResponseSize = 89

	closeRequestSize     = 24
	closeResponseSize    = 60
	closeFlagPostQueryAt = 0x0001
)

// handleCreate opens a named pipe on IPC$ or a file on a disk share
// [MS-SMB2 3.3.5.9]. Disk opens go through device.FileSystem; a context
// without it refuses CREATE.
func handleCreate(ctx context.Context, s *Server, req *request) ([]byte, error) {
	r := wire.LE(req.body)
	r.ExpectUint16(createRequestSize)
	r.Seek(36)
	disposition := r.Uint32()
	r.Skip(4) // create options
	nameOffset := int(r.Uint16())
	nameLength := int(r.Uint16())
	if err := r.Err(); err != nil {
		return nil, malformed(req.hdr.Command, "%v", err)
	}

	var name string
	if nameLength > 0 {
		start := nameOffset - header.Size
		if start < createFixedSize || start+nameLength > len(req.body) {
			return nil, malformed(req.hdr.Command, "name %d+%d outside body", nameOffset, nameLength)
		}
		name = wire.LE(req.body[start : start+nameLength]).UTF16(nameLength)
	}

	f := &openFile{
		id:        s.files.newID(),
		sessionID: req.sess.ID,
		tree:      req.tree,
		path:      normalizePath(name),
		opened:    time.Now(),
	}

	action := types.FileOpened
	if req.tree.IsIPC() {
		pipe, ok := s.pipes.Open(f.id, name)
		if !ok {
			return nil, statusErr(types.StatusObjectNameNotFound, "no pipe %q", name)
		}
		f.pipe = pipe
	} else {
		info, created, err := openOnDevice(ctx, req.tree.Context, f.path, disposition)
		if err != nil {
			return nil, err
		}
		f.info = info
		if created {
			action = types.FileCreated
		}
	}

	s.files.add(f)
	req.tree.FileOpened()
	req.outFileID = f.id

	logger.DebugCtx(ctx, "File opened", logger.KeyPath, f.path, "pipe", f.pipe != nil, "action", action)
	return createResponse(f, action), nil
}

// normalizePath turns an SMB path into a slash-separated share-relative name.
func normalizePath(name string) string {
	return strings.Trim(strings.ReplaceAll(name, `\`, "/"), "/")
}

// openOnDevice applies the create disposition against the share's store.
func openOnDevice(ctx context.Context, dctx device.Context, path string, disposition uint32) (device.FileInfo, bool, error) {
	fs, ok := dctx.(device.FileSystem)
	if !ok {
		return device.FileInfo{}, false, statusErr(types.StatusNotSupported, "%s share has no file access", dctx.Driver())
	}
	if disposition > types.FileOverwriteIf {
		return device.FileInfo{}, false, statusErr(types.StatusInvalidParameter, "create disposition %d", disposition)
	}
	if path == "" {
		if disposition == types.FileCreate {
			return device.FileInfo{}, false, statusErr(types.StatusObjectNameCollision, "share root")
		}
		return device.FileInfo{IsDir: true}, false, nil
	}

	info, err := fs.Open(ctx, path, false)
	switch {
	case err == nil:
		switch disposition {
		case types.FileCreate:
			return device.FileInfo{}, false, statusErr(types.StatusObjectNameCollision, "%s exists", path)
		case types.FileSupersede, types.FileOverwrite, types.FileOverwriteIf:
			if dctx.ReadOnly() {
				return device.FileInfo{}, false, device.ErrReadOnly
			}
		}
		return info, false, nil

	case errors.Is(err, device.ErrNotFound):
		if disposition == types.FileOpen || disposition == types.FileOverwrite {
			return device.FileInfo{}, false, err
		}
		if dctx.ReadOnly() {
			return device.FileInfo{}, false, device.ErrReadOnly
		}
		info, err = fs.Open(ctx, path, true)
		if err != nil {
			return device.FileInfo{}, false, err
		}
		return info, true, nil

	default:
		return device.FileInfo{}, false, err
	}
}

func fileAttributes(info device.FileInfo) uint32 {
	if info.IsDir {
		return types.FileAttributeDirectory
	}
	return types.FileAttributeNormal
}

func createResponse(f *openFile, action uint32) []byte {
	ft := types.Filetime(f.info.ModTime)
	attrs := fileAttributes(f.info)
	size := uint64(max(f.info.Size, 0))
	if f.pipe != nil {
		ft, attrs, size = 0, types.FileAttributeNormal, 0
	}

	w := wire.NewLEWriter(createResponseSize)
	w.Uint16(createResponseSize)
	w.Uint8(0) // oplock level: none
	w.Uint8(0)
	w.Uint32(action)
	for range 4 {
		w.Uint64(ft)
	}
	w.Uint64(size) // allocation size
	w.Uint64(size) // end of file
	w.Uint32(attrs)
	w.Uint32(0)
	w.Bytes(f.id[:])
	w.Uint32(0) // create contexts offset
	w.Uint32(0) // create contexts length
	w.Uint8(0)
	return w.Data()
}

// handleClose releases a handle [MS-SMB2 3.3.5.10].
func handleClose(ctx context.Context, s *Server, req *request) ([]byte, error) {
	r := wire.LE(req.body)
	r.ExpectUint16(closeRequestSize)
	flags := r.Uint16()
	r.Skip(4)
	var id FileID
	copy(id[:], r.Bytes(16))
	if err := r.Err(); err != nil {
		return nil, malformed(req.hdr.Command, "%v", err)
	}
	id = req.resolveFileID(id)

	if _, ok := s.files.get(id, req.sess.ID, req.tree.ID); !ok {
		return nil, statusErr(types.StatusFileClosed, "unknown file id")
	}
	f, ok := s.files.remove(id)
	if !ok {
		return nil, statusErr(types.StatusFileClosed, "file closed concurrently")
	}
	s.releaseFile(f)
	logger.DebugCtx(ctx, "File closed", logger.KeyPath, f.path)

	w := wire.NewLEWriter(closeResponseSize)
	w.Uint16(closeResponseSize)
	w.Uint16(flags & closeFlagPostQueryAt)
	w.Uint32(0)
	if flags&closeFlagPostQueryAt != 0 && f.pipe == nil {
		ft := types.Filetime(f.info.ModTime)
		for range 4 {
			w.Uint64(ft)
		}
		size := uint64(max(f.info.Size, 0))
		w.Uint64(size)
		w.Uint64(size)
		w.Uint32(fileAttributes(f.info))
	} else {
		w.Zeros(closeResponseSize - 8)
	}
	return w.Data(), nil
}

// fileFor resolves the FileID of a READ, WRITE, IOCTL or LOCK request.
func (s *Server) fileFor(req *request, raw []byte) (*openFile, error) {
	var id FileID
	copy(id[:], raw)
	id = req.resolveFileID(id)
	f, ok := s.files.get(id, req.sess.ID, req.tree.ID)
	if !ok {
		return nil, statusErr(types.StatusFileClosed, "unknown file id")
	}
	return f, nil
}
