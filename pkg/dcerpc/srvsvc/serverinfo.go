package srvsvc

import (
	"fmt"

	"github.com/marmos91/dittocifs/pkg/dcerpc"
)

// Server info levels.
const (
	ServerLevel100 uint32 = 100
	ServerLevel101 uint32 = 101
)

// ServerInfo is a SERVER_INFO_100 or SERVER_INFO_101 structure.
type ServerInfo struct {
	Level        uint32
	PlatformID   uint32
	Name         string
	VersionMajor uint32
	VersionMinor uint32
	Type         uint32
	Comment      string

	hasName, hasComment bool
}

func (s *ServerInfo) checkLevel() error {
	if s.Level != ServerLevel100 && s.Level != ServerLevel101 {
		return fmt.Errorf("server level %d: %w", s.Level, ErrUnsupportedInfoLevel)
	}
	return nil
}

func (s *ServerInfo) WriteObject(buf, strs *dcerpc.Buffer) error {
	if err := s.checkLevel(); err != nil {
		return err
	}
	buf.PutInt(s.PlatformID)
	buf.PutPointer(true)
	strs.PutString(s.Name)
	if s.Level == ServerLevel101 {
		buf.PutInt(s.VersionMajor)
		buf.PutInt(s.VersionMinor)
		buf.PutInt(s.Type)
		buf.PutPointer(true)
		strs.PutString(s.Comment)
	}
	return nil
}

func (s *ServerInfo) ReadObject(buf *dcerpc.Buffer) error {
	if err := s.checkLevel(); err != nil {
		return err
	}
	s.PlatformID = buf.GetInt()
	s.hasName = buf.GetPointer()
	if s.Level == ServerLevel101 {
		s.VersionMajor = buf.GetInt()
		s.VersionMinor = buf.GetInt()
		s.Type = buf.GetInt()
		s.hasComment = buf.GetPointer()
	}
	return buf.Err()
}

func (s *ServerInfo) ReadStrings(buf *dcerpc.Buffer) error {
	if s.hasName {
		s.Name = buf.GetString()
	}
	if s.hasComment {
		s.Comment = buf.GetString()
	}
	return buf.Err()
}
