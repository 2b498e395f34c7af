package common

// Version is set at build time via ldflags:
//
//	-ldflags "-X github.com/bobmcallan/filingwatch/internal/common.Version=1.2.3"
var Version = "dev"

// GetVersion returns the build version string.
func GetVersion() string {
	return Version
}
