package trace

// Version information for the babylon tracing runtime.
const (
	// Version is the current version of the tracing runtime.
	Version = "0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides runtime information about the tracing runtime.
type Info struct {
	// Version is the runtime version string.
	Version string

	// Protocol names the instrumentation call protocol the runtime speaks.
	// Instrumented code and runtime must agree on it.
	Protocol string
}

// Protocol is the instrumentation call protocol implemented by Tracker.
const Protocol = "babylon/1"

// GetInfo returns information about the tracing runtime.
//
// Example:
//
//	info := trace.GetInfo()
//	fmt.Printf("babylon trace %s (%s)\n", info.Version, info.Protocol)
func GetInfo() Info {
	return Info{
		Version:  Version,
		Protocol: Protocol,
	}
}
