// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package deviceadapter

import (
	"context"
	"fmt"
	"net/rpc"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"

	"github.com/olav-network/olav/pkg/inventory"
	"github.com/olav-network/olav/pkg/olaverr"
	"github.com/olav-network/olav/pkg/plugins"
)

// Handshake guards against launching an arbitrary executable as a
// plugin: both sides must agree on the cookie and protocol version.
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "OLAV_DEVICE_ADAPTER",
	MagicCookieValue: "8f2ce1d34b9c4d6f",
}

// pluginName is the dispense key inside the plugin map.
const pluginName = "device_adapter"

// Serve runs a concrete Adapter as a plugin process. Plugin authors call
// this from their main().
func Serve(a Adapter) {
	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]goplugin.Plugin{
			pluginName: &adapterPlugin{impl: a},
		},
	})
}

// adapterPlugin implements go-plugin's Plugin interface over net/rpc.
type adapterPlugin struct {
	impl Adapter
}

func (p *adapterPlugin) Server(*goplugin.MuxBroker) (any, error) {
	return &adapterRPCServer{impl: p.impl}, nil
}

func (p *adapterPlugin) Client(_ *goplugin.MuxBroker, c *rpc.Client) (any, error) {
	return &adapterRPCClient{client: c}, nil
}

// Wire types. net/rpc carries no context; cancellation is enforced on
// the client side by abandoning the in-flight call.

type runCommandsArgs struct {
	Device   inventory.Device
	Commands []string
}

type runCommandsReply struct {
	Output  map[string]string
	ErrKind string
	ErrMsg  string
}

type applyConfigArgs struct {
	Device inventory.Device
	Lines  []string
}

type applyConfigReply struct {
	Transcript string
	ErrKind    string
	ErrMsg     string
}

type probeArgs struct {
	Device inventory.Device
}

type probeReply struct {
	ErrKind string
	ErrMsg  string
}

type platformsReply struct {
	Platforms []string
}

func encodeErr(err error) (kind, msg string) {
	if err == nil {
		return "", ""
	}
	return string(olaverr.KindOf(err)), err.Error()
}

func decodeErr(kind, msg string) error {
	if kind == "" {
		return nil
	}
	return olaverr.New(olaverr.Kind(kind), "%s", msg)
}

// adapterRPCServer is the plugin-process side.
type adapterRPCServer struct {
	impl Adapter
}

func (s *adapterRPCServer) Platforms(_ struct{}, reply *platformsReply) error {
	reply.Platforms = s.impl.Platforms()
	return nil
}

func (s *adapterRPCServer) RunCommands(args runCommandsArgs, reply *runCommandsReply) error {
	out, err := s.impl.RunCommands(context.Background(), args.Device, args.Commands)
	reply.Output = out
	reply.ErrKind, reply.ErrMsg = encodeErr(err)
	return nil
}

func (s *adapterRPCServer) ApplyConfig(args applyConfigArgs, reply *applyConfigReply) error {
	transcript, err := s.impl.ApplyConfig(context.Background(), args.Device, args.Lines)
	reply.Transcript = transcript
	reply.ErrKind, reply.ErrMsg = encodeErr(err)
	return nil
}

func (s *adapterRPCServer) Probe(args probeArgs, reply *probeReply) error {
	err := s.impl.Probe(context.Background(), args.Device)
	reply.ErrKind, reply.ErrMsg = encodeErr(err)
	return nil
}

// adapterRPCClient is the core-process side, implementing Adapter over
// the plugin connection.
type adapterRPCClient struct {
	client *rpc.Client
}

// call runs an rpc call honoring ctx: an expired context abandons the
// in-flight call and surfaces Timeout.
func (c *adapterRPCClient) call(ctx context.Context, method string, args, reply any) error {
	done := make(chan error, 1)
	go func() {
		done <- c.client.Call("Plugin."+method, args, reply)
	}()
	select {
	case err := <-done:
		if err != nil {
			return olaverr.Wrap(olaverr.Unreachable, err)
		}
		return nil
	case <-ctx.Done():
		return olaverr.New(olaverr.Timeout, "device adapter call %s: %s", method, ctx.Err())
	}
}

func (c *adapterRPCClient) Platforms() []string {
	var reply platformsReply
	if err := c.client.Call("Plugin.Platforms", struct{}{}, &reply); err != nil {
		return nil
	}
	return reply.Platforms
}

func (c *adapterRPCClient) RunCommands(ctx context.Context, device inventory.Device, commands []string) (map[string]string, error) {
	var reply runCommandsReply
	if err := c.call(ctx, "RunCommands", runCommandsArgs{Device: device, Commands: commands}, &reply); err != nil {
		return nil, err
	}
	if err := decodeErr(reply.ErrKind, reply.ErrMsg); err != nil {
		return nil, err
	}
	return reply.Output, nil
}

func (c *adapterRPCClient) ApplyConfig(ctx context.Context, device inventory.Device, lines []string) (string, error) {
	var reply applyConfigReply
	if err := c.call(ctx, "ApplyConfig", applyConfigArgs{Device: device, Lines: lines}, &reply); err != nil {
		return "", err
	}
	if err := decodeErr(reply.ErrKind, reply.ErrMsg); err != nil {
		return "", err
	}
	return reply.Transcript, nil
}

func (c *adapterRPCClient) Probe(ctx context.Context, device inventory.Device) error {
	var reply probeReply
	if err := c.call(ctx, "Probe", probeArgs{Device: device}, &reply); err != nil {
		return err
	}
	return decodeErr(reply.ErrKind, reply.ErrMsg)
}

var _ Adapter = (*adapterRPCClient)(nil)

// Loader loads device adapter plugins; it satisfies plugins.PluginLoader
// so the discovery/registry machinery can manage adapter processes like
// any other plugin kind.
type Loader struct {
	logger hclog.Logger
}

// NewLoader builds a Loader; a nil logger falls back to hclog's default.
func NewLoader(logger hclog.Logger) *Loader {
	if logger == nil {
		logger = hclog.Default().Named("device-adapter")
	}
	return &Loader{logger: logger}
}

func (l *Loader) SupportedProtocol() plugins.PluginProtocol {
	return plugins.ProtocolNetRPC
}

// Load spawns the plugin executable and dispenses its Adapter.
func (l *Loader) Load(_ context.Context, config *plugins.PluginConfig) (plugins.Plugin, error) {
	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]goplugin.Plugin{
			pluginName: &adapterPlugin{},
		},
		Cmd:    exec.Command(config.Path),
		Logger: l.logger.Named(config.Name),
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, plugins.NewPluginError(config.Name, "load", "failed to start plugin process", err)
	}
	raw, err := rpcClient.Dispense(pluginName)
	if err != nil {
		client.Kill()
		return nil, plugins.NewPluginError(config.Name, "load", "failed to dispense adapter", err)
	}
	adapter, ok := raw.(Adapter)
	if !ok {
		client.Kill()
		return nil, plugins.NewPluginError(config.Name, "load", "plugin does not implement the adapter contract", nil)
	}

	return &loadedAdapter{
		name:     config.Name,
		manifest: config.Manifest,
		client:   client,
		adapter:  adapter,
		status:   plugins.StatusReady,
	}, nil
}

func (l *Loader) Unload(_ context.Context, p plugins.Plugin) error {
	la, ok := p.(*loadedAdapter)
	if !ok {
		return fmt.Errorf("not a device adapter plugin")
	}
	la.client.Kill()
	la.status = plugins.StatusShutdown
	return nil
}

// loadedAdapter is one running plugin process plus its dispensed
// adapter.
type loadedAdapter struct {
	name     string
	manifest *plugins.PluginManifest
	client   *goplugin.Client
	adapter  Adapter
	status   plugins.PluginStatus
}

// Adapter exposes the dispensed adapter for registration.
func (p *loadedAdapter) Adapter() Adapter { return p.adapter }

func (p *loadedAdapter) Shutdown(context.Context) error {
	p.client.Kill()
	p.status = plugins.StatusShutdown
	return nil
}

func (p *loadedAdapter) GetManifest() *plugins.PluginManifest { return p.manifest }

func (p *loadedAdapter) GetStatus() plugins.PluginStatus { return p.status }

func (p *loadedAdapter) Health(context.Context) error {
	if p.client.Exited() {
		p.status = plugins.StatusCrashed
		return fmt.Errorf("plugin process %s exited", p.name)
	}
	return nil
}

var _ plugins.Plugin = (*loadedAdapter)(nil)
var _ plugins.PluginLoader = (*Loader)(nil)
