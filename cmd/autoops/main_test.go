package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckConfig(t *testing.T) {
	t.Setenv("AUTOOPS_CONFIG", "")
	t.Setenv("AUTOOPS_RULES_PATH", "../../configs/rules/default.yaml")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"check-config", "--config", "../../configs/default.yaml"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "3 policies, 2 response rules")
}

func TestParsePayload(t *testing.T) {
	empty, err := parsePayload(nil)
	require.NoError(t, err)
	assert.Empty(t, empty.GetFields())

	in, err := parsePayload([]string{`{"key":"cpu_usage","value":97}`})
	require.NoError(t, err)
	assert.Equal(t, "cpu_usage", in.AsMap()["key"])

	_, err = parsePayload([]string{`[1,2]`})
	assert.Error(t, err)
}

func TestClosersRunInReverse(t *testing.T) {
	var order []int
	var c closers
	c.add(func() { order = append(order, 1) })
	c.add(func() { order = append(order, 2) })
	c.run()
	assert.Equal(t, []int{2, 1}, order)
}
