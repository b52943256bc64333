package srvsvc

import (
	"fmt"

	"github.com/marmos91/dittocifs/pkg/dcerpc"
)

// Connection info levels.
const (
	ConnectionLevel0 uint32 = 0
	ConnectionLevel1 uint32 = 1
)

// ConnectionInfo is a CONNECTION_INFO_0 or CONNECTION_INFO_1 structure.
type ConnectionInfo struct {
	Level    uint32
	ID       uint32
	Type     uint32
	NumOpens uint32
	NumUsers uint32
	Time     uint32 // seconds since the connection was established
	UserName string
	NetName  string

	hasUser, hasNet bool
}

func (c *ConnectionInfo) checkLevel() error {
	if c.Level != ConnectionLevel0 && c.Level != ConnectionLevel1 {
		return fmt.Errorf("connection level %d: %w", c.Level, ErrUnsupportedInfoLevel)
	}
	return nil
}

func (c *ConnectionInfo) WriteObject(buf, strs *dcerpc.Buffer) error {
	if err := c.checkLevel(); err != nil {
		return err
	}
	buf.PutInt(c.ID)
	if c.Level == ConnectionLevel0 {
		return nil
	}
	buf.PutInt(c.Type)
	buf.PutInt(c.NumOpens)
	buf.PutInt(c.NumUsers)
	buf.PutInt(c.Time)
	buf.PutPointer(true)
	buf.PutPointer(true)
	strs.PutString(c.UserName)
	strs.PutString(c.NetName)
	return nil
}

func (c *ConnectionInfo) ReadObject(buf *dcerpc.Buffer) error {
	if err := c.checkLevel(); err != nil {
		return err
	}
	c.ID = buf.GetInt()
	if c.Level == ConnectionLevel1 {
		c.Type = buf.GetInt()
		c.NumOpens = buf.GetInt()
		c.NumUsers = buf.GetInt()
		c.Time = buf.GetInt()
		c.hasUser = buf.GetPointer()
		c.hasNet = buf.GetPointer()
	}
	return buf.Err()
}

func (c *ConnectionInfo) ReadStrings(buf *dcerpc.Buffer) error {
	if c.hasUser {
		c.UserName = buf.GetString()
	}
	if c.hasNet {
		c.NetName = buf.GetString()
	}
	return buf.Err()
}

// ConnectionInfoList is the CONNECT_INFO_x_CONTAINER array of one level.
type ConnectionInfoList struct {
	Level uint32
	*dcerpc.List[*ConnectionInfo]
}

// NewConnectionInfoList returns an empty list decoded at level.
func NewConnectionInfoList(level uint32) (*ConnectionInfoList, error) {
	if level != ConnectionLevel0 && level != ConnectionLevel1 {
		return nil, fmt.Errorf("connection level %d: %w", level, ErrUnsupportedInfoLevel)
	}
	return &ConnectionInfoList{
		Level: level,
		List:  dcerpc.NewList(func() *ConnectionInfo { return &ConnectionInfo{Level: level} }),
	}, nil
}

// AddConnection appends c at the list's level.
func (l *ConnectionInfoList) AddConnection(c *ConnectionInfo) {
	c.Level = l.Level
	l.Add(c)
}
