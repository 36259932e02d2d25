// Command builder runs the autonomous test-and-code build loop: given a
// requirements document, it designs tests, generates source, exercises both
// in a sandbox, and iterates until the suite passes or the fix budget runs
// out. Structured the way the teacher structures its binaries under cmd/
// (see cmd/gen-schema), one self-contained package main per command rather
// than a shared library cmd package.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
