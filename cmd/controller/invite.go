package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"wgnet/pkg/api"
	"wgnet/pkg/errs"
)

func inviteCmd() *cobra.Command {
	var (
		server, token, node, bootstrap, caFile string
		ifaces                                 []string
		listenPort                             uint16
		mtu                                    uint32
	)
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Create an invite on a running controller and print it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := buildInviteRequest(node, bootstrap, ifaces, listenPort, mtu)
			if err != nil {
				return err
			}
			opts := []api.ClientOption{api.WithToken(token)}
			if caFile != "" {
				tlsCfg, err := api.ClientTLSConfig(caFile, "", "")
				if err != nil {
					return err
				}
				opts = append(opts, api.WithTLS(tlsCfg))
			}
			resp, err := api.NewClient(server, 10*time.Second, opts...).CreateInvite(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Invite)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&server, "server", "127.0.0.1:8888", "controller address")
	f.StringVar(&token, "token", "", "admin token or JWT")
	f.StringVar(&caFile, "tls-ca", "", "CA bundle for an HTTPS controller")
	f.StringVar(&node, "node", "", "name of the node being invited")
	f.StringVar(&bootstrap, "bootstrap-addr", "", "bootstrap tunnel address, allocated when empty")
	f.StringArrayVar(&ifaces, "iface", nil, "interface as name=cidr[,cidr...]; repeatable")
	f.Uint16Var(&listenPort, "listen-port", 0, "listen port for every interface, 0 for random")
	f.Uint32Var(&mtu, "mtu", 0, "MTU for every interface, 0 for default")
	_ = cmd.MarkFlagRequired("iface")
	return cmd
}

// buildInviteRequest turns the repeated --iface flags into a request.
func buildInviteRequest(node, bootstrap string, specs []string, listenPort uint16, mtu uint32) (api.InviteRequest, error) {
	req := api.InviteRequest{Node: node, BootstrapAddr: bootstrap}
	for _, spec := range specs {
		name, list, ok := strings.Cut(spec, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return api.InviteRequest{}, &errs.ConfigError{Source: "--iface", Err: fmt.Errorf("%q is not name=cidr[,cidr...]", spec)}
		}
		ifc := api.InviteInterface{Name: name}
		for _, a := range strings.Split(list, ",") {
			if a = strings.TrimSpace(a); a != "" {
				ifc.Addrs = append(ifc.Addrs, a)
			}
		}
		if len(ifc.Addrs) == 0 {
			return api.InviteRequest{}, &errs.ConfigError{Source: "--iface", Err: fmt.Errorf("%s has no addresses", name)}
		}
		if listenPort != 0 {
			p := listenPort
			ifc.ListenPort = &p
		}
		if mtu != 0 {
			m := mtu
			ifc.MTU = &m
		}
		req.Interfaces = append(req.Interfaces, ifc)
	}
	return req, nil
}
