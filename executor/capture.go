package executor

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
)

// capture redirects the process stdout and stderr into buffers while user
// code runs. Only one capture may be active at a time.
type capture struct {
	origStdout, origStderr *os.File
	outW, errW             *os.File
	stdout, stderr         bytes.Buffer
	wg                     sync.WaitGroup
}

var captureMu sync.Mutex

func startCapture() (*capture, error) {
	captureMu.Lock()

	outR, outW, err := os.Pipe()
	if err != nil {
		captureMu.Unlock()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		captureMu.Unlock()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	c := &capture{
		origStdout: os.Stdout,
		origStderr: os.Stderr,
		outW:       outW,
		errW:       errW,
	}
	c.wg.Add(2)
	go c.drain(&c.stdout, outR)
	go c.drain(&c.stderr, errR)

	os.Stdout = outW
	os.Stderr = errW
	return c, nil
}

func (c *capture) drain(dst *bytes.Buffer, r *os.File) {
	defer c.wg.Done()
	defer r.Close()
	_, _ = io.Copy(dst, r)
}

// stop restores the original streams and returns what was written.
func (c *capture) stop() (stdout, stderr string) {
	os.Stdout = c.origStdout
	os.Stderr = c.origStderr
	c.outW.Close()
	c.errW.Close()
	c.wg.Wait()
	captureMu.Unlock()
	return c.stdout.String(), c.stderr.String()
}
