package srvsvc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittocifs/pkg/dcerpc"
)

func sampleShare(i int) *ShareInfo {
	return &ShareInfo{
		Name:             fmt.Sprintf("share%02d", i),
		Type:             STypeDiskTree,
		Comment:          fmt.Sprintf("comment %d", i),
		Permissions:      uint32(i),
		MaxUses:          0xFFFFFFFF,
		CurrentUses:      uint32(i % 3),
		Path:             fmt.Sprintf(`C:\exports\share%02d`, i),
		Password:         "",
		ReadOnlyPassword: "ro",
		Flags:            CSCManualReintegration,
	}
}

func roundTrip(t *testing.T, level uint32, n int) *ShareInfoList {
	t.Helper()

	out, err := NewShareInfoList(level)
	require.NoError(t, err)
	for i := range n {
		out.AddShare(sampleShare(i))
	}
	buf := dcerpc.NewBuffer(64)
	require.NoError(t, out.Encode(buf))

	in, err := NewShareInfoList(level)
	require.NoError(t, err)
	require.NoError(t, in.Decode(dcerpc.NewReadBuffer(buf.Bytes())))
	return in
}

func TestShareInfoListRoundTrip(t *testing.T) {
	t.Parallel()

	levels := []uint32{ShareLevel0, ShareLevel1, ShareLevel2, ShareLevel50, ShareLevel501, ShareLevel502, ShareLevel1005}
	for _, level := range levels {
		for _, n := range []int{0, 1, 50} {
			t.Run(fmt.Sprintf("level%d/n%d", level, n), func(t *testing.T) {
				t.Parallel()

				in := roundTrip(t, level, n)
				require.Equal(t, n, in.Len())

				for i := range n {
					got := in.GetShare(i)
					require.NotNil(t, got)
					want := sampleShare(i)
					want.Level = level

					switch level {
					case ShareLevel0:
						assert.Equal(t, want.Name, got.Name)
					case ShareLevel1:
						assert.Equal(t, want.Name, got.Name)
						assert.Equal(t, want.Type, got.Type)
						assert.Equal(t, want.Comment, got.Comment)
					case ShareLevel2, ShareLevel502:
						assert.Equal(t, want.Name, got.Name)
						assert.Equal(t, want.Comment, got.Comment)
						assert.Equal(t, want.Permissions, got.Permissions)
						assert.Equal(t, want.MaxUses, got.MaxUses)
						assert.Equal(t, want.CurrentUses, got.CurrentUses)
						assert.Equal(t, want.Path, got.Path)
						assert.Empty(t, got.ReadOnlyPassword)
					case ShareLevel50:
						assert.Equal(t, want.Name, got.Name)
						assert.Equal(t, want.Path, got.Path)
						assert.Equal(t, "ro", got.ReadOnlyPassword)
						assert.Equal(t, want.Flags, got.Flags)
					case ShareLevel501:
						assert.Equal(t, want.Comment, got.Comment)
						assert.Equal(t, want.Flags, got.Flags)
					case ShareLevel1005:
						assert.Empty(t, got.Name)
						assert.Equal(t, want.Flags, got.Flags)
					}
				}
				assert.Nil(t, in.GetShare(n), "out of range")
			})
		}
	}
}

func TestShareInfoLevel1Layout(t *testing.T) {
	t.Parallel()

	list, err := NewShareInfoList(ShareLevel1)
	require.NoError(t, err)
	list.AddShare(&ShareInfo{Name: "IPC$", Type: STypeIPC | STypeSpecial, Comment: ""})

	buf := dcerpc.NewBuffer(64)
	require.NoError(t, list.Encode(buf))

	r := dcerpc.NewReadBuffer(buf.Bytes())
	assert.Equal(t, uint32(1), r.GetInt(), "count")
	assert.True(t, r.GetPointer(), "array pointer")
	assert.Equal(t, uint32(1), r.GetInt(), "max count")
	assert.True(t, r.GetPointer(), "netname pointer")
	assert.Equal(t, STypeIPC|STypeSpecial, r.GetInt())
	assert.True(t, r.GetPointer(), "remark pointer")
	assert.Equal(t, "IPC$", r.GetString())
	assert.Equal(t, "", r.GetString())
	require.NoError(t, r.Err())
	assert.Zero(t, r.Remaining())
}

func TestShareInfoUnsupportedLevel(t *testing.T) {
	t.Parallel()

	_, err := NewShareInfoList(3)
	assert.True(t, errors.Is(err, ErrUnsupportedInfoLevel))

	s := &ShareInfo{Level: 7}
	assert.ErrorIs(t, s.WriteObject(dcerpc.NewBuffer(8), dcerpc.NewBuffer(8)), ErrUnsupportedInfoLevel)
	assert.ErrorIs(t, s.ReadObject(dcerpc.NewReadBuffer(make([]byte, 16))), ErrUnsupportedInfoLevel)
}

func TestShareInfo502RejectsSecurityDescriptor(t *testing.T) {
	t.Parallel()

	buf := dcerpc.NewBuffer(64)
	buf.PutPointer(true) // name
	buf.PutInt(STypeDiskTree)
	buf.PutPointer(true) // remark
	buf.PutInt(0)
	buf.PutInt(1)
	buf.PutInt(0)
	buf.PutPointer(true) // path
	buf.PutPointer(true) // password
	buf.PutInt(0)
	buf.PutPointer(true) // security descriptor

	s := &ShareInfo{Level: ShareLevel502}
	err := s.ReadObject(dcerpc.NewReadBuffer(buf.Bytes()))
	assert.ErrorIs(t, err, dcerpc.ErrBuffer)
}

func TestShareInfoTruncatedList(t *testing.T) {
	t.Parallel()

	out, err := NewShareInfoList(ShareLevel2)
	require.NoError(t, err)
	for i := range 5 {
		out.AddShare(sampleShare(i))
	}
	buf := dcerpc.NewBuffer(64)
	require.NoError(t, out.Encode(buf))
	data := buf.Bytes()

	in, err := NewShareInfoList(ShareLevel2)
	require.NoError(t, err)
	err = in.Decode(dcerpc.NewReadBuffer(data[:len(data)-10]))
	require.Error(t, err)
	assert.True(t, dcerpc.IsExhausted(err))
	assert.Zero(t, in.Len(), "a failed decode leaves the list empty")
}

func TestConnectionInfoListRoundTrip(t *testing.T) {
	t.Parallel()

	for _, level := range []uint32{ConnectionLevel0, ConnectionLevel1} {
		out, err := NewConnectionInfoList(level)
		require.NoError(t, err)
		out.AddConnection(&ConnectionInfo{ID: 4, Type: STypeDiskTree, NumOpens: 2, NumUsers: 1, Time: 60, UserName: "alice", NetName: "public"})
		out.AddConnection(&ConnectionInfo{ID: 9, UserName: "bob", NetName: "IPC$"})

		buf := dcerpc.NewBuffer(64)
		require.NoError(t, out.Encode(buf))

		in, err := NewConnectionInfoList(level)
		require.NoError(t, err)
		require.NoError(t, in.Decode(dcerpc.NewReadBuffer(buf.Bytes())))
		require.Equal(t, 2, in.Len())

		first, _ := in.Get(0)
		assert.Equal(t, uint32(4), first.ID)
		if level == ConnectionLevel1 {
			assert.Equal(t, uint32(2), first.NumOpens)
			assert.Equal(t, uint32(60), first.Time)
			assert.Equal(t, "alice", first.UserName)
			assert.Equal(t, "public", first.NetName)
		} else {
			assert.Empty(t, first.UserName)
		}
	}

	_, err := NewConnectionInfoList(2)
	assert.ErrorIs(t, err, ErrUnsupportedInfoLevel)
}
