package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetTrimsAndFallsBack(t *testing.T) {
	t.Setenv("CREDITLEDGER_TEST_VALUE", "  console ")
	assert.Equal(t, "console", Get("CREDITLEDGER_TEST_VALUE", "json"))

	t.Setenv("CREDITLEDGER_TEST_VALUE", "   ")
	assert.Equal(t, "json", Get("CREDITLEDGER_TEST_VALUE", "json"))
}

func TestFirstSkipsBlankKeys(t *testing.T) {
	t.Setenv("CREDITLEDGER_TEST_A", "")
	t.Setenv("CREDITLEDGER_TEST_B", "worker-2")
	assert.Equal(t, "worker-2", First("CREDITLEDGER_TEST_A", "CREDITLEDGER_TEST_B"))
	assert.Empty(t, First("CREDITLEDGER_TEST_A"))
}

func TestBool(t *testing.T) {
	t.Setenv("CREDITLEDGER_TEST_FLAG", "true")
	assert.True(t, Bool("CREDITLEDGER_TEST_FLAG", false))

	t.Setenv("CREDITLEDGER_TEST_FLAG", "nope")
	assert.True(t, Bool("CREDITLEDGER_TEST_FLAG", true))

	t.Setenv("CREDITLEDGER_TEST_FLAG", "")
	assert.False(t, Bool("CREDITLEDGER_TEST_FLAG", false))
}
