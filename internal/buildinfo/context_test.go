package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext_Version(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ctx  *Context
		want string
	}{
		{name: "nil context", ctx: nil, want: unknown},
		{name: "empty version", ctx: New("", "2026-01-01"), want: unknown},
		{name: "valid version", ctx: New("1.0.0", "2026-01-01"), want: "1.0.0"},
		{name: "pre-release tag", ctx: New("1.0.0-beta.1", "2026-01-01"), want: "1.0.0-beta.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.ctx.GetVersion())
		})
	}
}

func TestContext_BuildDate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, unknown, (*Context)(nil).GetBuildDate())
	assert.Equal(t, unknown, New("1.0.0", "").GetBuildDate())
	assert.Equal(t, "2026-01-01T12:00:00Z", New("1.0.0", "2026-01-01T12:00:00Z").GetBuildDate())
}

func TestContext_InstanceID(t *testing.T) {
	t.Parallel()

	a, b := New("1.0.0", ""), New("1.0.0", "")
	assert.NotEqual(t, unknown, a.GetInstanceID())
	assert.NotEqual(t, a.GetInstanceID(), b.GetInstanceID(), "each process gets its own id")
	assert.Equal(t, unknown, (*Context)(nil).GetInstanceID())
}

func TestContext_Release(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "camhal@2.1.0", New("2.1.0", "").Release())
	assert.Equal(t, "camhal@unknown", (*Context)(nil).Release())
}
