package models

import (
	"path/filepath"
	"time"
)

// Config holds the runtime options of a rehosting session.
type Config struct {
	Name      string
	Verbose   bool
	BaseDir   string
	OutputDir string

	Target  string
	GdbAddr string
	QmpAddr string

	RxPort int
	TxPort int
	// BusRecord is a file receiving a compressed capture of bus traffic.
	BusRecord string
	// ReadTimeout bounds blocking peripheral reads; zero waits until shutdown.
	ReadTimeout time.Duration

	StatsFile string
}

// ResolvePath makes path relative to the configuration directory.
func (c *Config) ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) || c.BaseDir == "" {
		return path
	}
	return filepath.Join(c.BaseDir, path)
}

func (c *Config) OutputPath(name string) string {
	dir := c.OutputDir
	if dir == "" {
		dir = filepath.Join(c.BaseDir, "tmp", c.Name)
	}
	return filepath.Join(dir, name)
}
