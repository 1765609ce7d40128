//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package converter

import "os/exec"

func configureProcessGroup(cmd *exec.Cmd) {}
