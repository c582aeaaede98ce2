package supervisor

import "fmt"

// DefaultJavaBin is used when no runtime binary is configured.
const DefaultJavaBin = "java"

// xmsCeilingMB caps the initial heap passed to the child. The maximum
// heap follows the record's limit unbounded; the initial heap never
// exceeds this ceiling however large the maximum is.
const xmsCeilingMB = 1024

// launchArgs builds the child argument list: heap bounds, the jar to
// run, and the no-graphical-interface flag.
func launchArgs(maxMemoryMB int, jarPath string) []string {
	initial := maxMemoryMB
	if initial > xmsCeilingMB {
		initial = xmsCeilingMB
	}
	return []string{
		fmt.Sprintf("-Xmx%dM", maxMemoryMB),
		fmt.Sprintf("-Xms%dM", initial),
		"-jar", jarPath,
		"nogui",
	}
}
