package process

import (
	"os"
	"syscall"
)

func terminateSignal() os.Signal {
	return syscall.SIGTERM
}
