package server

import (
	"context"
	"strings"

	"github.com/marmos91/dittocifs/internal/logger"
	"github.com/marmos91/dittocifs/internal/wire"
	"github.com/marmos91/dittocifs/pkg/smb/header"
	"github.com/marmos91/dittocifs/pkg/smb/session"
	"github.com/marmos91/dittocifs/pkg/smb/types"
)

const (
	treeConnectRequestSize = 9

	// access masks reported as MaximalAccess
	accessFull    uint32 = 0x001F01FF
	accessRead    uint32 = 0x001200A9
	accessPipeIPC uint32 = 0x0000001F
)

// shareFromPath extracts the share from \\server\share.
func shareFromPath(path string) string {
	path = strings.TrimLeft(strings.ReplaceAll(path, "/", `\`), `\`)
	if i := strings.IndexByte(path, '\\'); i >= 0 {
		path = path[i+1:]
	}
	return strings.TrimRight(path, `\`)
}

// handleTreeConnect connects the session to a share [MS-SMB2 3.3.5.7].
func handleTreeConnect(ctx context.Context, s *Server, req *request) ([]byte, error) {
	r := wire.LE(req.body)
	r.ExpectUint16(treeConnectRequestSize)
	r.Skip(2)
	offset := int(r.Uint16())
	length := int(r.Uint16())
	if err := r.Err(); err != nil {
		return nil, malformed(req.hdr.Command, "%v", err)
	}

	start := offset - header.Size
	if length == 0 || start < 8 || start+length > len(req.body) {
		return nil, malformed(req.hdr.Command, "path %d+%d outside body", offset, length)
	}
	path := wire.LE(req.body[start : start+length]).UTF16(length)
	name := shareFromPath(path)
	if name == "" {
		return nil, statusErr(types.StatusBadNetworkName, "empty share in %q", path)
	}

	tree, err := s.sessions.TreeConnect(ctx, req.sess, name)
	if err != nil {
		return nil, err
	}
	req.outTreeID = tree.ID

	logger.InfoCtx(ctx, "Tree connected", logger.KeyTreeID, tree.ID, logger.KeyShare, tree.Share.Name,
		logger.KeyPath, path)
	return treeConnectResponse(tree), nil
}

func treeConnectResponse(tree *session.Tree) []byte {
	shareType := types.ShareTypeDisk
	access := accessFull
	switch {
	case tree.IsIPC():
		shareType = types.ShareTypePipe
		access = accessPipeIPC
	case tree.Context != nil && tree.Context.ReadOnly():
		access = accessRead
	}

	w := wire.NewLEWriter(16)
	w.Uint16(16)
	w.Uint8(shareType)
	w.Uint8(0)
	w.Uint32(0) // share flags: manual caching
	w.Uint32(0) // capabilities
	w.Uint32(access)
	return w.Data()
}

// handleTreeDisconnect closes the tree and every handle opened through it
// [MS-SMB2 3.3.5.8].
func handleTreeDisconnect(ctx context.Context, s *Server, req *request) ([]byte, error) {
	for _, f := range s.files.removeTree(req.sess.ID, req.tree.ID) {
		s.releaseFile(f)
	}
	if err := s.sessions.TreeDisconnect(req.sess, req.tree.ID); err != nil {
		return nil, err
	}
	logger.DebugCtx(ctx, "Tree disconnected")
	return simpleResponse(), nil
}
