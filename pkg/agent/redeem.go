package agent

import (
	"context"
	"fmt"

	"wgnet/pkg/config"
	"wgnet/pkg/errs"
	"wgnet/pkg/model"
)

// Dial builds the coordinator client for an invite's server socket.
type Dial func(server string) Coordinator

// Redeem onboards the node with inv: it brings the bootstrap interface up,
// probes the coordinator, redeems the key and tears the bootstrap down again.
// The returned configs replace the tracked set, all in state Down. Nothing is
// retried; any failure leaves the agent without interfaces.
func (a *Agent) Redeem(ctx context.Context, inv config.Invite, dial Dial) ([]model.InterfaceConfig, error) {
	boot := a.opts.Factory(inv.IfaceConfig)
	log := a.log.With("iface", boot.Name())

	if err := boot.Up(); err != nil {
		a.report("up", boot)
		if derr := boot.Down(); derr != nil {
			log.Warn("bootstrap teardown failed", "stage", errs.Stage(derr), "err", derr)
		}
		return nil, fmt.Errorf("bootstrap interface: %w", err)
	}
	log.Info("bootstrap interface up", "server", inv.ServerSocket)

	cfgs, err := a.redeem(ctx, inv, dial)
	if derr := boot.Down(); derr != nil {
		if err == nil {
			err = fmt.Errorf("bootstrap teardown: %w", derr)
		}
	} else {
		log.Info("bootstrap interface down")
	}
	if err != nil {
		return nil, err
	}
	if err := a.Track(cfgs); err != nil {
		return nil, err
	}
	a.log.Info("invite redeemed", "interfaces", len(cfgs))
	return cfgs, nil
}

func (a *Agent) redeem(ctx context.Context, inv config.Invite, dial Dial) ([]model.InterfaceConfig, error) {
	client := dial(inv.ServerSocket)
	reply, err := client.Ping(ctx, "I'm "+inv.Key)
	if err != nil {
		return nil, fmt.Errorf("ping coordinator %s: %w", inv.ServerSocket, err)
	}
	a.log.Debug("ping", "reply", reply)
	cfgs, err := client.RedeemInvite(ctx, inv.Key)
	if err != nil {
		return nil, fmt.Errorf("redeem invite: %w", err)
	}
	if len(cfgs) == 0 {
		return nil, &errs.ProtocolError{Call: "redeem_invite", Err: fmt.Errorf("no interfaces returned")}
	}
	return cfgs, nil
}
