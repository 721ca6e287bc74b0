package consts

// populated with -ldflags at build time
var (
	Version   = "v0.1.0"
	BuildTime = "unknown"
	GitTag    = "unknown"
)
