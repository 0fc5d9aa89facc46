// Package buildinfo contains build-time metadata kept separate from user configuration
package buildinfo

import (
	"github.com/google/uuid"
)

const unknown = "unknown"

// BuildInfo provides access to build-time metadata.
type BuildInfo interface {
	// GetVersion returns the build version string
	GetVersion() string
	// GetBuildDate returns the build date string
	GetBuildDate() string
	// GetInstanceID returns the identifier of this process
	GetInstanceID() string
}

// Context contains build-time metadata that is not user-configurable.
// It is injected at startup from linker flags.
type Context struct {
	// Version holds the Git version tag from build
	Version string

	// BuildDate is the time when the binary was built
	BuildDate string

	// InstanceID identifies this process in error reports
	InstanceID string
}

// New returns a Context with a fresh instance id
func New(version, buildDate string) *Context {
	return &Context{
		Version:    version,
		BuildDate:  buildDate,
		InstanceID: uuid.NewString(),
	}
}

// GetVersion implements BuildInfo.GetVersion
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return unknown
	}
	return c.Version
}

// GetBuildDate implements BuildInfo.GetBuildDate
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return unknown
	}
	return c.BuildDate
}

// GetInstanceID implements BuildInfo.GetInstanceID
func (c *Context) GetInstanceID() string {
	if c == nil || c.InstanceID == "" {
		return unknown
	}
	return c.InstanceID
}

// Release returns the string reported as the release to error tracking
func (c *Context) Release() string {
	return "camhal@" + c.GetVersion()
}

var _ BuildInfo = (*Context)(nil)
