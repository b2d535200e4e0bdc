// diagnostics.go - package-level verbose logging switch
package archhook

import (
	"fmt"
	"os"
)

// Verbose gates diagnostic output. Only the allocator emits diagnostics;
// the patcher and symbol resolvers do not. It is never consulted on the
// instruction-emission hot path.
var Verbose bool

func verbosef(format string, args ...any) {
	if !Verbose {
		return
	}
	fmt.Fprintf(os.Stderr, "archhook: "+format+"\n", args...)
}
