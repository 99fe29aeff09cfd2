package capability

import (
	"os"
	"os/exec"

	"github.com/pkg/errors"
)

// ProcessSpawner starts a child process for SHEL/EXEC, returning its
// pid and pipe ends. stdin may be nil (EXEC has no
// input half); stdout also captures stderr, per the source's dup2 of
// both onto the child's write end.
type ProcessSpawner interface {
	Spawn(argv []string) (pid int, stdin, stdout *os.File, err error)
}

// OSProcessSpawner spawns real child processes via os/exec, wiring its
// pipe ends to raw *os.File so the pipe sub-protocol can set them
// non-blocking directly.
type OSProcessSpawner struct{}

func (OSProcessSpawner) Spawn(argv []string) (int, *os.File, *os.File, error) {
	if len(argv) == 0 {
		return 0, nil, nil, errors.New("spawner: empty argv")
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return 0, nil, nil, errors.Wrap(err, "spawner: stdin pipe")
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return 0, nil, nil, errors.Wrap(err, "spawner: stdout pipe")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stdoutW

	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return 0, nil, nil, errors.Wrap(err, "spawner: start")
	}

	stdinR.Close()
	stdoutW.Close()

	go cmd.Wait()

	return cmd.Process.Pid, stdinW, stdoutR, nil
}
