package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterfaceFilter(t *testing.T) {
	itf, err := initInterfaceFilter(nil, []string{"lo"})
	require.NoError(t, err)
	assert.True(t, itf.Allowed("eth0"))
	assert.True(t, itf.Allowed("br-0"))
	assert.False(t, itf.Allowed("lo"))

	itf, err = initInterfaceFilter([]string{"eth0", "/^veth/"}, []string{"/^veth9/"})
	require.NoError(t, err)
	assert.True(t, itf.Allowed("eth0"))
	assert.True(t, itf.Allowed("veth0abc"))
	assert.False(t, itf.Allowed("eth1"))
	assert.False(t, itf.Allowed("veth9def"))

	_, err = initInterfaceFilter([]string{"/invalid(/"}, nil)
	assert.Error(t, err)

	_, err = initInterfaceFilter(nil, []string{"/invalid(/"})
	assert.Error(t, err)
}
