package app

import (
	"fmt"
	"runtime"
)

// Version is the release of the studyroom binary.
const Version = "0.3.0"

// VersionString describes the build for --version output.
func VersionString() string {
	return fmt.Sprintf("studyroom v%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}
