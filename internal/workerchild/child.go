// Package workerchild implements the worker child: the subprocess
// that executes exactly one shell command at a time and reports a single
// terminal result per job it receives.
package workerchild

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"

	"github.com/kballard/go-shellquote"

	"queuectl/internal/ipc"
)

// Run drives the child side of the protocol: send ready once, then loop
// reading job messages from r and writing terminal replies to w until r
// is closed (the parent killed the pipe or exited).
func Run(r io.Reader, w io.Writer) error {
	reader := ipc.NewReader(r)
	writer := ipc.NewWriter(w)

	if err := writer.Write(ipc.Envelope{Type: ipc.MsgReady}); err != nil {
		return fmt.Errorf("send ready: %w", err)
	}

	for {
		msg, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read job message: %w", err)
		}
		if msg.Type != ipc.MsgJob {
			continue
		}
		reply := execute(msg.Job, msg.Command)
		if err := writer.Write(reply); err != nil {
			return fmt.Errorf("send reply for job %s: %w", msg.Job, err)
		}
	}
}

// execute runs one job to completion and returns its terminal reply.
// Tokenization is a validation gate against trivially malformed/injected
// commands; the command itself still runs through the system shell so
// legitimate shell syntax (pipes, redirects) keeps working.
func execute(jobID, command string) ipc.Envelope {
	if _, err := shellquote.Split(command); err != nil {
		return ipc.Envelope{Type: ipc.MsgFailed, Job: jobID, Error: "unparseable command: " + err.Error()}
	}

	cmd := exec.Command("sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return ipc.Envelope{Type: ipc.MsgFailed, Job: jobID, Error: failureMessage(err, stderr.String())}
	}
	return ipc.Envelope{Type: ipc.MsgCompleted, Job: jobID, Output: stdout.String()}
}

func failureMessage(err error, stderr string) string {
	if stderr != "" {
		return stderr
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return fmt.Sprintf("process exited with code %d", exitErr.ExitCode())
	}
	return err.Error()
}
