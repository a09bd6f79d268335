// Package source implements the external capture collaborators: helper
// processes such as rpicam-vid, ffmpeg or arecord are started with stdout as
// their sink, and their output is sliced into capture payloads. The pipeline
// construction itself stays in the command line handed to us.
package source

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"

	"github.com/buchio/rpi-camera-streamer/domain"
)

// cmdSource is the shared process plumbing under MJPEGSource and PCMSource.
type cmdSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func startCommand(name string, args []string) (*cmdSource, error) {
	cmd := exec.Command(name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("source: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("source: start %s: %w", name, err)
	}
	slog.Info("capture process started", "command", name, "pid", cmd.Process.Pid)
	return &cmdSource{cmd: cmd, stdout: stdout}, nil
}

// close stops the capture process. The pending Next call fails with the pipe
// error and the pump surfaces it.
func (c *cmdSource) close() error {
	if c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	c.stdout.Close()
	return c.cmd.Wait()
}

// fatal marks a read error as a permanent source failure.
func fatal(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF || err == io.ErrClosedPipe {
		return fmt.Errorf("source: capture process ended: %w", err)
	}
	return fmt.Errorf("source: read: %w", err)
}

var _ domain.Source = (*MJPEGSource)(nil)
var _ domain.Source = (*PCMSource)(nil)
