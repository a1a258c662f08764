package wireguard

import (
	"errors"
	"net"
	"syscall"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgnet/pkg/kernel"
)

// kernelLinker manages in-kernel WireGuard links over rtnetlink.
type kernelLinker struct {
	nl *kernel.Transport
}

func newKernelLinker() (linker, error) {
	return &kernelLinker{nl: kernel.New()}, nil
}

func (k *kernelLinker) create(name string, mtu int) error {
	m, err := kernel.NewLinkMessage(name, "wireguard")
	if err != nil {
		return err
	}
	if _, err := k.nl.Request(kernel.ProtoRoute, m, 0); err != nil && !errors.Is(err, syscall.EEXIST) {
		return err
	}
	return nil
}

func (k *kernelLinker) destroy(name string) error {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		// Nothing left to remove.
		return nil
	}
	if _, err := k.nl.Request(kernel.ProtoRoute, kernel.DelLinkMessage(ifi.Index), kernel.FlagsModify); err != nil && !errors.Is(err, syscall.ENODEV) {
		return err
	}
	return nil
}

func (k *kernelLinker) publicKey(name string) (wgtypes.Key, error) {
	dev, err := k.nl.InspectWireGuard(name)
	if err != nil {
		return wgtypes.Key{}, err
	}
	return wgtypes.Key(dev.PublicKey), nil
}
