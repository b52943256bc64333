package srvsvc

import (
	"errors"
	"fmt"

	"github.com/marmos91/dittocifs/pkg/dcerpc"
)

// ErrUnsupportedInfoLevel is returned when encoding or decoding a level that
// has no wire layout.
var ErrUnsupportedInfoLevel = errors.New("srvsvc: unsupported info level")

// Share info levels.
const (
	ShareLevel0    uint32 = 0
	ShareLevel1    uint32 = 1
	ShareLevel2    uint32 = 2
	ShareLevel50   uint32 = 50
	ShareLevel501  uint32 = 501
	ShareLevel502  uint32 = 502
	ShareLevel1005 uint32 = 1005
)

// SupportedShareLevel reports whether level has a wire layout.
func SupportedShareLevel(level uint32) bool {
	switch level {
	case ShareLevel0, ShareLevel1, ShareLevel2, ShareLevel50, ShareLevel501, ShareLevel502, ShareLevel1005:
		return true
	}
	return false
}

// ShareInfo is a SHARE_INFO_x structure. Which fields travel on the wire is
// decided by Level:
//
//	0     netname
//	1     netname, type, remark
//	2     level 1 + permissions, max_uses, current_uses, path, passwd
//	50    netname, type, flags, remark, path, rw passwd, ro passwd (legacy)
//	501   level 1 + flags
//	502   level 2 + reserved, security descriptor (always NULL here)
//	1005  flags
type ShareInfo struct {
	Level            uint32
	Name             string
	Type             uint32
	Comment          string
	Permissions      uint32
	MaxUses          uint32
	CurrentUses      uint32
	Path             string
	Password         string
	ReadOnlyPassword string
	Flags            uint32

	// referents seen by ReadObject, consumed in order by ReadStrings
	refs []*string
}

// stringFields returns the pointer-referenced fields of the level in wire order.
func (s *ShareInfo) stringFields() ([]*string, error) {
	switch s.Level {
	case ShareLevel0:
		return []*string{&s.Name}, nil
	case ShareLevel1, ShareLevel501:
		return []*string{&s.Name, &s.Comment}, nil
	case ShareLevel2, ShareLevel502:
		return []*string{&s.Name, &s.Comment, &s.Path, &s.Password}, nil
	case ShareLevel50:
		return []*string{&s.Name, &s.Comment, &s.Path, &s.Password, &s.ReadOnlyPassword}, nil
	case ShareLevel1005:
		return nil, nil
	}
	return nil, fmt.Errorf("share level %d: %w", s.Level, ErrUnsupportedInfoLevel)
}

// WriteObject implements dcerpc.Writable.
func (s *ShareInfo) WriteObject(buf, strs *dcerpc.Buffer) error {
	fields, err := s.stringFields()
	if err != nil {
		return err
	}

	switch s.Level {
	case ShareLevel0:
		buf.PutPointer(true)
	case ShareLevel1, ShareLevel501:
		buf.PutPointer(true)
		buf.PutInt(s.Type)
		buf.PutPointer(true)
		if s.Level == ShareLevel501 {
			buf.PutInt(s.Flags)
		}
	case ShareLevel2, ShareLevel502:
		buf.PutPointer(true)
		buf.PutInt(s.Type)
		buf.PutPointer(true)
		buf.PutInt(s.Permissions)
		buf.PutInt(s.MaxUses)
		buf.PutInt(s.CurrentUses)
		buf.PutPointer(true)
		buf.PutPointer(true)
		if s.Level == ShareLevel502 {
			buf.PutInt(0)
			buf.PutPointer(false)
		}
	case ShareLevel50:
		buf.PutPointer(true)
		buf.PutInt(s.Type)
		buf.PutInt(s.Flags)
		for range 4 {
			buf.PutPointer(true)
		}
	case ShareLevel1005:
		buf.PutInt(s.Flags)
	}

	for _, f := range fields {
		strs.PutString(*f)
	}
	return nil
}

// ReadObject implements dcerpc.Readable.
func (s *ShareInfo) ReadObject(buf *dcerpc.Buffer) error {
	fields, err := s.stringFields()
	if err != nil {
		return err
	}

	s.refs = s.refs[:0]
	ptr := func(f *string) {
		if buf.GetPointer() {
			s.refs = append(s.refs, f)
		}
	}

	switch s.Level {
	case ShareLevel0:
		ptr(fields[0])
	case ShareLevel1, ShareLevel501:
		ptr(&s.Name)
		s.Type = buf.GetInt()
		ptr(&s.Comment)
		if s.Level == ShareLevel501 {
			s.Flags = buf.GetInt()
		}
	case ShareLevel2, ShareLevel502:
		ptr(&s.Name)
		s.Type = buf.GetInt()
		ptr(&s.Comment)
		s.Permissions = buf.GetInt()
		s.MaxUses = buf.GetInt()
		s.CurrentUses = buf.GetInt()
		ptr(&s.Path)
		ptr(&s.Password)
		if s.Level == ShareLevel502 {
			reserved := buf.GetInt()
			if buf.GetPointer() || reserved != 0 {
				buf.Fail(dcerpc.ErrInvalidLength, "security descriptors are not supported")
			}
		}
	case ShareLevel50:
		ptr(&s.Name)
		s.Type = buf.GetInt()
		s.Flags = buf.GetInt()
		ptr(&s.Comment)
		ptr(&s.Path)
		ptr(&s.Password)
		ptr(&s.ReadOnlyPassword)
	case ShareLevel1005:
		s.Flags = buf.GetInt()
	}
	return buf.Err()
}

// ReadStrings implements dcerpc.Readable.
func (s *ShareInfo) ReadStrings(buf *dcerpc.Buffer) error {
	for _, f := range s.refs {
		*f = buf.GetString()
	}
	s.refs = nil
	return buf.Err()
}

// ShareInfoList is the SHARE_INFO_x_CONTAINER array of one level.
type ShareInfoList struct {
	Level uint32
	*dcerpc.List[*ShareInfo]
}

// NewShareInfoList returns an empty list whose elements are decoded at level.
func NewShareInfoList(level uint32) (*ShareInfoList, error) {
	if !SupportedShareLevel(level) {
		return nil, fmt.Errorf("share level %d: %w", level, ErrUnsupportedInfoLevel)
	}
	return &ShareInfoList{
		Level: level,
		List:  dcerpc.NewList(func() *ShareInfo { return &ShareInfo{Level: level} }),
	}, nil
}

// AddShare appends s, forcing it to the list's level.
func (l *ShareInfoList) AddShare(s *ShareInfo) {
	s.Level = l.Level
	l.Add(s)
}

// GetShare returns the share at idx, or nil when out of range.
func (l *ShareInfoList) GetShare(idx int) *ShareInfo {
	s, ok := l.Get(idx)
	if !ok {
		return nil
	}
	return s
}
