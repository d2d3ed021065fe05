package main

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) logr.Logger {
	t.Helper()
	return logr.Discard()
}

func TestBootWiresStandardAssigns(t *testing.T) {
	res, err := boot(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Kernel.Assigns.Exists("SYS"))
	assert.True(t, res.Kernel.Assigns.Exists("D0"))
	assert.True(t, res.Kernel.Assigns.Exists("C"))
	assert.True(t, res.Kernel.Assigns.Exists("CERTS"))
	assert.Equal(t, uint64(1), res.Init.ID())
}

func TestSelftestScenariosAllPass(t *testing.T) {
	err := runSelftest(context.Background(), testLogger(t))
	assert.NoError(t, err)
}
