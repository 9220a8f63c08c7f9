package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sidepanel/internal/port"
)

var (
	attachAddr string
	attachName string
	attachOnce bool
)

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Open a panel port on a running daemon",
	Long: `Connects to the daemon as a panel would: opens the side-panel-port, sends
init and prints every message received until interrupted. Closing the
command disconnects the port, which marks the panel closed.`,
	RunE: runAttach,
}

func init() {
	attachCmd.Flags().StringVar(&attachAddr, "addr", "", "Daemon address (default: server.addr from config)")
	attachCmd.Flags().StringVar(&attachName, "port", port.SidePanelPort, "Port name: side-panel-port or content-port")
	attachCmd.Flags().BoolVar(&attachOnce, "once", false, "Disconnect after the first reply")
}

// portEndpoint builds the websocket URL for a named port.
func portEndpoint(addr, name string) string {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/port/" + name}
	return u.String()
}

func runAttach(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !port.ValidName(attachName) {
		return fmt.Errorf("unknown port name %q", attachName)
	}
	addr := attachAddr
	if addr == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		addr = cfg.Server.Addr
	}
	return attach(ctx, portEndpoint(addr, attachName), attachName, attachOnce, cmd.OutOrStdout())
}

func attach(ctx context.Context, endpoint, name string, once bool, out io.Writer) error {
	replied := make(chan struct{}, 1)
	p, err := port.Dial(ctx, endpoint, name, func(p *port.Port) {
		p.OnMessage(func(m port.Message) {
			fmt.Fprintf(out, "%s %s\n", headerStyle.Render(m.Type), m.Message)
			select {
			case replied <- struct{}{}:
			default:
			}
		})
		p.OnDisconnect(func() {
			fmt.Fprintln(out, mutedStyle.Render("port disconnected"))
		})
	})
	if err != nil {
		return err
	}
	defer func() {
		p.Disconnect()
		<-p.Done()
	}()
	logger.Info("Attached", zap.String("endpoint", endpoint))

	if err := p.PostMessage(port.Init()); err != nil {
		return fmt.Errorf("send init: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.Done():
			return nil
		case <-replied:
			if once {
				return nil
			}
		}
	}
}
