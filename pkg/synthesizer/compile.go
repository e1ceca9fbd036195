package synthesizer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// CompileCheck validates Python source syntactically without running
// it, per spec.md §4.C step 3 ("Validate syntactically (compile)").
// This runs outside the sandbox: compiling doesn't execute top-level
// code paths with side effects the way `exec` would, so it doesn't
// need the resource/network isolation pkg/sandbox provides for the
// actual execute step that follows. Exported so pkg/registry can run
// the same check on save (spec.md §4.A: "compile the source; reject on
// syntax error" applies to every block that enters the catalog, not
// only ones that went through the synthesizer's own loop).
func CompileCheck(source string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "python3", "-c", "import sys,ast; ast.parse(sys.stdin.read())")
	cmd.Stdin = bytes.NewBufferString(source)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("syntax error: %s", stderr.String())
	}
	return nil
}
