//go:build !unix

package agent

import "syscall"

func reuseAddr(network, address string, c syscall.RawConn) error {
	return nil
}
