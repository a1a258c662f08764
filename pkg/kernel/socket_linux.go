//go:build linux

package kernel

import (
	"fmt"

	"golang.org/x/sys/unix"
)

type sysSocket struct {
	fd int
}

func openSocket(protocol int) (Socket, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, protocol)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind: %w", err)
	}
	if err := unix.Connect(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &sysSocket{fd: fd}, nil
}

func (s *sysSocket) Send(b []byte) (int, error) {
	return unix.Write(s.fd, b)
}

func (s *sysSocket) Recv(b []byte) (int, error) {
	n, _, err := unix.Recvfrom(s.fd, b, 0)
	return n, err
}

func (s *sysSocket) Close() error {
	return unix.Close(s.fd)
}
