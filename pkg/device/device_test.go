package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittocifs/internal/bytesize"
)

func TestParseParams(t *testing.T) {
	t.Parallel()

	p, err := ParseParams(" Path = /srv/share , readonly=true,empty=")
	require.NoError(t, err)
	assert.Equal(t, Params{"path": "/srv/share", "readonly": "true", "empty": ""}, p)
	assert.Equal(t, []string{"empty", "path", "readonly"}, p.Keys())
	assert.Equal(t, "empty=,path=/srv/share,readonly=true", p.String())

	p, err = ParseParams("   ")
	require.NoError(t, err)
	assert.Empty(t, p)

	p, err = ParseParams("url=http://h/?a=b")
	require.NoError(t, err)
	assert.Equal(t, "http://h/?a=b", p["url"], "only the first '=' splits")
}

func TestParseParamsStructuralErrors(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"path",
		"path=/a,,readonly=true",
		"=value",
		" = x",
		"path=/a,PATH=/b",
		"path=/a,",
	} {
		p, err := ParseParams(in)
		require.Error(t, err, in)
		assert.Nil(t, p, in)

		var ce *ContextError
		require.True(t, errors.As(err, &ce), in)
		assert.Equal(t, ErrSyntax, ce.Code, in)
		assert.ErrorIs(t, err, ErrContext)
	}
}

func TestValidator(t *testing.T) {
	t.Parallel()

	p, err := ParseParams("bucket=b,quota=10Mi,readonly=yes-please")
	require.NoError(t, err)

	v := p.Validate("test")
	assert.Equal(t, "b", v.Required("bucket"))
	assert.Equal(t, 10*bytesize.MiB, v.Size("quota", 0))
	assert.False(t, v.Bool("readonly", false))
	err = v.Err()
	require.Error(t, err)

	var ce *ContextError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ErrInvalidValue, ce.Code)
	assert.Equal(t, "readonly", ce.Key)
	assert.Equal(t, "test", ce.Driver)
	assert.Contains(t, ce.Error(), `device test: InvalidValue "readonly"`)
}

func TestValidatorMissingAndUnknown(t *testing.T) {
	t.Parallel()

	p, _ := ParseParams("colour=blue")
	v := p.Validate("disk")
	v.Required("path")
	assert.ErrorIs(t, v.Err(), &ContextError{Code: ErrMissingParam})

	v = p.Validate("disk")
	v.Optional("path", "")
	assert.ErrorIs(t, v.Err(), &ContextError{Code: ErrUnknownParam})

	p, _ = ParseParams("path=")
	v = p.Validate("disk")
	v.Required("path")
	assert.ErrorIs(t, v.Err(), &ContextError{Code: ErrInvalidValue})
}

type nopDevice struct{}

func (nopDevice) CreateContext(string) (Context, error) { return nil, nil }
func (nopDevice) TreeOpened(SessionInfo, TreeInfo)      {}
func (nopDevice) TreeClosed(SessionInfo, TreeInfo)      {}

func TestDrivers(t *testing.T) {
	t.Parallel()

	d := NewDrivers()
	var got Options
	d.Register("Nop", func(o Options) Device { got = o; return nopDevice{} })

	dev, err := d.New("NOP", Options{})
	require.NoError(t, err)
	assert.NotNil(t, dev)
	assert.NotNil(t, got.Platform, "platform defaults to noop")
	assert.Equal(t, []string{"nop"}, d.Names())

	_, err = d.New("tape", Options{})
	assert.ErrorIs(t, err, &ContextError{Code: ErrUnknownDriver})
}

func TestErrorCodeString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "MissingParam", ErrMissingParam.String())
	assert.Equal(t, "ErrorCode(42)", ErrorCode(42).String())
}
