package common

var (
	// Version is set at build time with -ldflags "-X github.com/dacut/hpc-lab-maker/common.Version=..."
	Version = "dev"

	// PackageName is the metrics namespace and default log service name.
	PackageName = "labportal"
)
