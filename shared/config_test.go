package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvString(t *testing.T) {
	t.Setenv("CINEMA_TEST_STR", "")
	assert.Equal(t, "def", EnvString("CINEMA_TEST_STR", "def"))
	t.Setenv("CINEMA_TEST_STR", "set")
	assert.Equal(t, "set", EnvString("CINEMA_TEST_STR", "def"))
}

func TestEnvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("CINEMA_TEST_INT", "12")
	assert.Equal(t, 12, EnvInt("CINEMA_TEST_INT", 3))
	t.Setenv("CINEMA_TEST_INT", "twelve")
	assert.Equal(t, 3, EnvInt("CINEMA_TEST_INT", 3))
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("CINEMA_TEST_DUR", "45s")
	assert.Equal(t, 45*time.Second, EnvDuration("CINEMA_TEST_DUR", time.Second))
	t.Setenv("CINEMA_TEST_DUR", "45")
	assert.Equal(t, time.Second, EnvDuration("CINEMA_TEST_DUR", time.Second))
}

func TestEnvBool(t *testing.T) {
	for v, want := range map[string]bool{"1": true, "YES": true, "on": true, "0": false, "False": false, "off": false} {
		t.Setenv("CINEMA_TEST_BOOL", v)
		assert.Equal(t, want, EnvBool("CINEMA_TEST_BOOL", !want), v)
	}
	t.Setenv("CINEMA_TEST_BOOL", "maybe")
	assert.True(t, EnvBool("CINEMA_TEST_BOOL", true))
}

func TestEnvList(t *testing.T) {
	t.Setenv("CINEMA_TEST_LIST", " 101, ,102,201 ")
	assert.Equal(t, []string{"101", "102", "201"}, EnvList("CINEMA_TEST_LIST", nil))
	t.Setenv("CINEMA_TEST_LIST", "")
	assert.Equal(t, []string{"x"}, EnvList("CINEMA_TEST_LIST", []string{"x"}))
}
