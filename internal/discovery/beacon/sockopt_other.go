//go:build !unix

package beacon

import "syscall"

func broadcastControl(_, _ string, _ syscall.RawConn) error { return nil }
