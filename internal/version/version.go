// Package version — сведения о сборке, заполняемые через -ldflags:
//
//	-X github.com/vladislavdragonenkov/backorders/internal/version.version=v1.2.0
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

func GetVersion() string { return version }

// GetCommit возвращает commit; для сборок без -ldflags берётся vcs.revision из buildinfo.
func GetCommit() string {
	if commit != "unknown" {
		return commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return s.Value
			}
		}
	}
	return commit
}

func GetDate() string { return date }

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s go=%s", version, GetCommit(), date, runtime.Version())
}

// Fields: поля для стартовой строки лога бинарников.
func Fields() log.Fields {
	return log.Fields{
		"version": version,
		"commit":  GetCommit(),
		"built":   date,
		"go":      runtime.Version(),
	}
}
