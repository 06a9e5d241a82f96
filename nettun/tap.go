//go:build linux

// Package nettun opens a Linux TAP device and exposes whole-Ethernet-frame
// Read/Write, using golang.org/x/sys/unix for the ioctl and socket option
// constants, and retrying reads/writes on EINTR/EAGAIN the way blocking
// fd-based I/O is expected to behave under Go's runtime poller.
package nettun

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/exec"
	"unsafe"

	"golang.org/x/sys/unix"
)

const safamilyHW6 = 1

// Tap is an open Linux TAP network interface.
type Tap struct {
	fd   int
	name string
}

// Open creates (or attaches to) the TAP interface named name and, if ip is
// valid, assigns it the given address/prefix and brings the link up.
func Open(name string, ip netip.Prefix) (*Tap, error) {
	if len(name) >= unix.IFNAMSIZ {
		return nil, errors.New("nettun: interface name too long")
	}
	fd, err := unix.Open("/dev/net/tun", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("nettun: open tun device: %w", err)
	}
	ifr := makeifreq(name)
	ifr.setFlags(unix.IFF_TAP | unix.IFF_NO_PI)
	if err := ioctl(fd, unix.TUNSETIFF, ifr.ptr()); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("nettun: TUNSETIFF: %w", err)
	}
	if ip.IsValid() {
		if err := exec.Command("ip", "link", "set", "dev", name, "up").Run(); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("nettun: bring up link: %w", err)
		}
		if err := exec.Command("ip", "addr", "add", ip.String(), "dev", name).Run(); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("nettun: assign address: %w", err)
		}
	}
	return &Tap{fd: fd, name: name}, nil
}

// Name returns the interface name.
func (tap *Tap) Name() string { return tap.name }

// ReadFrame reads one Ethernet frame into buf, retrying on EINTR/EAGAIN.
func (tap *Tap) ReadFrame(buf []byte) (int, error) {
	for {
		n, err := unix.Read(tap.fd, buf)
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		return n, err
	}
}

// WriteFrame writes one Ethernet frame, retrying on EINTR/EAGAIN.
func (tap *Tap) WriteFrame(buf []byte) (int, error) {
	for {
		n, err := unix.Write(tap.fd, buf)
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		return n, err
	}
}

// Close releases the underlying file descriptor.
func (tap *Tap) Close() error {
	return unix.Close(tap.fd)
}

// HardwareAddr6 queries the kernel for the interface's MAC address.
func (tap *Tap) HardwareAddr6() (hw [6]byte, err error) {
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return hw, fmt.Errorf("nettun: socket: %w", err)
	}
	defer unix.Close(sock)
	ifr := makeifreq(tap.name)
	if err := ioctl(sock, unix.SIOCGIFHWADDR, ifr.ptr()); err != nil {
		return hw, fmt.Errorf("nettun: SIOCGIFHWADDR: %w", err)
	}
	family := *(*uint16)(unsafe.Pointer(&ifr.data[0]))
	if family != safamilyHW6 {
		return hw, fmt.Errorf("nettun: unexpected sa_family %d", family)
	}
	copy(hw[:], ifr.data[2:8])
	return hw, nil
}

// MTU queries the interface's configured MTU.
func (tap *Tap) MTU() (int, error) {
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return 0, fmt.Errorf("nettun: socket: %w", err)
	}
	defer unix.Close(sock)
	ifr := makeifreq(tap.name)
	if err := ioctl(sock, unix.SIOCGIFMTU, ifr.ptr()); err != nil {
		return 0, fmt.Errorf("nettun: SIOCGIFMTU: %w", err)
	}
	return int(*(*int32)(unsafe.Pointer(&ifr.data[0]))), nil
}

func ioctl(fd int, request uintptr, argp unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), request, uintptr(argp))
	if errno != 0 {
		return os.NewSyscallError("ioctl", errno)
	}
	return nil
}

type ifreq struct {
	name [unix.IFNAMSIZ]byte
	data [64]byte
}

func makeifreq(name string) ifreq {
	var ifr ifreq
	copy(ifr.name[:], name)
	return ifr
}

func (ifr *ifreq) setFlags(flags uint16) {
	*(*uint16)(unsafe.Pointer(&ifr.data[0])) = flags
}

func (ifr *ifreq) ptr() unsafe.Pointer { return unsafe.Pointer(ifr) }
