// Package fsops puts thin interfaces over os and filepath so code that walks
// the application tree can be tested without a real filesystem.
package fsops

//go:generate mockgen -source=fsops.go -destination=mocks/fsops_mock.go -package=mocks

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

type PathOps interface {
	Abs(path string) (string, error)
	Rel(basepath, targpath string) (string, error)
	Join(elem ...string) string
	Clean(path string) string
	IsAbs(path string) bool
	Ext(name string) string
}

type OSOps interface {
	Stat(name string) (fs.FileInfo, error)
	Open(name string) (io.ReadCloser, error)
}

type DirWalker interface {
	WalkDir(root string, fn fs.WalkDirFunc) error
}

// Ops bundles the dependencies of filesmanager.
type Ops struct {
	Path   PathOps
	OS     OSOps
	Walker DirWalker
}

func DefaultOps() Ops {
	return Ops{
		Path:   stdPathOps{},
		OS:     stdOSOps{},
		Walker: stdDirWalker{},
	}
}

func (o Ops) Validate() bool {
	return o.Path != nil && o.OS != nil && o.Walker != nil
}

type stdPathOps struct{}

func (stdPathOps) Abs(path string) (string, error) { return filepath.Abs(path) }
func (stdPathOps) Rel(basepath, targpath string) (string, error) {
	return filepath.Rel(basepath, targpath)
}
func (stdPathOps) Join(elem ...string) string { return filepath.Join(elem...) }
func (stdPathOps) Clean(path string) string   { return filepath.Clean(path) }
func (stdPathOps) IsAbs(path string) bool     { return filepath.IsAbs(path) }
func (stdPathOps) Ext(name string) string     { return filepath.Ext(name) }

type stdOSOps struct{}

func (stdOSOps) Stat(name string) (fs.FileInfo, error)  { return os.Stat(name) }
func (stdOSOps) Open(name string) (io.ReadCloser, error) { return os.Open(name) }

type stdDirWalker struct{}

func (stdDirWalker) WalkDir(root string, fn fs.WalkDirFunc) error {
	return filepath.WalkDir(root, fn)
}
