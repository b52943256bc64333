package drivers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittocifs/pkg/device"
)

func TestDefault(t *testing.T) {
	t.Parallel()
	d := Default()
	assert.Equal(t, []string{"disk", "memory", "s3"}, d.Names())

	for _, name := range d.Names() {
		dev, err := d.New(name, device.Options{})
		require.NoError(t, err, name)
		assert.NotNil(t, dev, name)
	}

	_, err := d.New("tape", device.Options{})
	assert.ErrorIs(t, err, &device.ContextError{Code: device.ErrUnknownDriver})
}
