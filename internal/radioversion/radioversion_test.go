package radioversion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, s := range []string{"RYLR89C_V1.2.7", " 1.2.7\r\n", "v1.2.7", "V1.2.7"} {
		v, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, "1.2.7", v.String())
	}
	_, err := Parse("RYLR89C")
	assert.Error(t, err)
}

func TestAtLeast(t *testing.T) {
	ok, err := AtLeast("RYLR89C_V1.2.7", "1.2.0")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = AtLeast("RYLR89C_V1.2.7", "1.2.7")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = AtLeast("RYLR89C_V1.1.9", "1.2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = AtLeast("garbage", "1.0")
	assert.Error(t, err)
}
