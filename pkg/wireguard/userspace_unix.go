//go:build linux || darwin || freebsd || openbsd

package wireguard

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"sync"

	"golang.zx2c4.com/wireguard/conn"
	"golang.zx2c4.com/wireguard/device"
	"golang.zx2c4.com/wireguard/ipc"
	"golang.zx2c4.com/wireguard/tun"

	"wgnet/pkg/platform"
)

type userspaceDev struct {
	dev  *device.Device
	uapi net.Listener
}

// userspaceLinker runs wireguard-go devices inside this process. The UAPI
// socket carries the logical interface name so wgctrl can address it.
type userspaceLinker struct {
	mu   sync.Mutex
	devs map[string]*userspaceDev
	log  *slog.Logger
}

func newUserspaceLinker(log *slog.Logger) (linker, error) {
	return &userspaceLinker{devs: map[string]*userspaceDev{}, log: log}, nil
}

func (u *userspaceLinker) create(name string, mtu int) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.devs[name]; ok {
		return nil
	}
	tunName := name
	if runtime.GOOS == "darwin" {
		tunName = "utun"
	}
	tdev, err := tun.CreateTUN(tunName, mtu)
	if err != nil {
		return fmt.Errorf("create tun: %w", err)
	}
	real, err := tdev.Name()
	if err != nil {
		_ = tdev.Close()
		return fmt.Errorf("tun name: %w", err)
	}
	if real != name {
		if err := platform.RecordTunName(name, real); err != nil {
			_ = tdev.Close()
			return fmt.Errorf("record tun name: %w", err)
		}
	}
	log := u.log.With("iface", name, "tun", real)
	dev := device.NewDevice(tdev, conn.NewDefaultBind(), &device.Logger{
		Verbosef: func(format string, args ...any) { log.Debug(fmt.Sprintf(format, args...)) },
		Errorf:   func(format string, args ...any) { log.Error(fmt.Sprintf(format, args...)) },
	})
	file, err := ipc.UAPIOpen(name)
	if err != nil {
		dev.Close()
		return fmt.Errorf("uapi open: %w", err)
	}
	uapi, err := ipc.UAPIListen(name, file)
	if err != nil {
		dev.Close()
		return fmt.Errorf("uapi listen: %w", err)
	}
	go func() {
		for {
			c, err := uapi.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					log.Debug("uapi accept stopped", "err", err)
				}
				return
			}
			go dev.IpcHandle(c)
		}
	}()
	if err := dev.Up(); err != nil {
		_ = uapi.Close()
		dev.Close()
		return fmt.Errorf("device up: %w", err)
	}
	u.devs[name] = &userspaceDev{dev: dev, uapi: uapi}
	log.Info("userspace device started")
	return nil
}

func (u *userspaceLinker) destroy(name string) error {
	u.mu.Lock()
	d, ok := u.devs[name]
	delete(u.devs, name)
	u.mu.Unlock()
	if !ok {
		return nil
	}
	err := d.uapi.Close()
	d.dev.Close()
	platform.ForgetTunName(name)
	return err
}
