package upstream

import (
	"os"
	"os/exec"

	"github.com/1mcp-app/agent/internal/config"
	"github.com/1mcp-app/agent/internal/log"
)

// newCommand builds the *exec.Cmd for a stdio upstream: inherited
// environment plus the server's overrides, working directory, and
// stderr piped line-by-line into the logger (spec.md §4.3).
func newCommand(name string, args []string, p config.ServerParams) *exec.Cmd {
	cmd := exec.Command(name, args...)
	cmd.Dir = p.Cwd
	cmd.Env = mergeEnv(os.Environ(), p.Env)
	cmd.Stderr = &stderrLineWriter{server: p.Name}
	return cmd
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, len(base), len(base)+len(overrides))
	copy(out, base)
	for k, v := range overrides {
		out = append(out, k+"="+v)
	}
	return out
}

// stderrLineWriter forwards each write (exec.Cmd.Stderr writes are not
// necessarily line-delimited, but upstream MCP servers log a line at a
// time in practice) to the structured logger tagged with the upstream
// name.
type stderrLineWriter struct {
	server string
}

func (w *stderrLineWriter) Write(p []byte) (int, error) {
	log.With("upstream", w.server).Warn(string(p))
	return len(p), nil
}
