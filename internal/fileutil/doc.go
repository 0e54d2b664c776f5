// Package fileutil provides the small filesystem helpers fnhost needs for its
// runtime directory: recursive directory creation, atomic writes of generated
// configuration files, and removal of stale socket artifacts.
package fileutil
