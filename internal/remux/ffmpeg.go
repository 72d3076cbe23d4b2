package remux

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/moegi-dl/moegi/internal/utils"
)

// RemuxError carries the muxer's diagnostic output on a non-zero exit.
// The downloaded source tracks are preserved so the job can retry the
// merge without re-fetching anything.
type RemuxError struct {
	ExitCode int
	Output   string
}

func (e *RemuxError) Error() string {
	return fmt.Sprintf("remux: ffmpeg exited with code %d", e.ExitCode)
}

// Runner invokes the external muxer as a separate process. The muxing
// tool is always an external collaborator, never linked in.
type Runner struct {
	Path string
}

func NewRunner(path string) *Runner {
	if path == "" {
		path = "ffmpeg"
	}
	return &Runner{Path: path}
}

// Exec runs the muxer with the plan's argument list and waits for it.
func (r *Runner) Exec(ctx context.Context, plan Plan) error {
	log := utils.GetLogger("remux")
	args := plan.Args()
	cmd := exec.CommandContext(ctx, r.Path, args...)
	log.Debug().Str("op", "remux/exec").Msgf("Executing muxer command: %s", cmd.String())
	output, err := cmd.CombinedOutput()
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		log.Error().Str("op", "remux/exec").Int("exitCode", exitCode).Msg("Muxer command failed")
		return &RemuxError{ExitCode: exitCode, Output: string(output)}
	}
	return nil
}
