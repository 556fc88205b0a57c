package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

// GetVersion возвращает только версию сборки, её отдаёт /healthz.
func GetVersion() string {
	return version
}

func String() string {
	return fmt.Sprintf("shop-service version=%s commit=%s date=%s", version, commit, date)
}

// GetCommit возвращает hash коммита сборки.
func GetCommit() string {
	return commit
}

// GetDate возвращает дату сборки.
func GetDate() string {
	return date
}
