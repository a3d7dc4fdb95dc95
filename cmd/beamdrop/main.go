// Command beamdrop is the peer-to-peer file transfer client: it dials
// a beamdropd signaling room, pairs with a peer by room token, and
// drives sends/receives through internal/session.Coordinator. It
// replaces the teacher's cli/ package — a tview TUI — with a plain
// line-oriented console the way restic's cmd/restic talks to its
// terminal, since the engine's callback surface (onProgress,
// onStateChange, ...) is UI-agnostic and a TUI adds nothing the spec
// requires.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/beamdrop/engine/internal/config"
	"github.com/beamdrop/engine/internal/logging"
	"github.com/beamdrop/engine/internal/model"
	"github.com/beamdrop/engine/internal/receiver"
	"github.com/beamdrop/engine/internal/sender"
	"github.com/beamdrop/engine/internal/session"
	"github.com/beamdrop/engine/internal/signaling"
	"github.com/beamdrop/engine/internal/tracing"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var serverURL string
	var destDir string
	var trace bool

	cmd := &cobra.Command{
		Use:   "beamdrop",
		Short: "Peer-to-peer file transfer client",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClient(configPath)
			if err != nil {
				return err
			}
			if serverURL != "" {
				cfg.ServerURL = serverURL
			}
			if destDir != "" {
				cfg.DestDir = destDir
			}
			if cfg.ICEServers, err = fetchICEServers(cfg); err != nil {
				// Non-fatal: on error fetchICEServers returns the
				// config/default STUN list, which stays in use.
				fmt.Fprintf(os.Stderr, "beamdrop: ice server discovery: %v\n", err)
			}
			return runREPL(cmd.Context(), cfg, trace)
		},
	}

	var flags *pflag.FlagSet = cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&serverURL, "server", "", "signaling server websocket URL (overrides config)")
	flags.StringVar(&destDir, "dest", "", "directory to write received files into (overrides config)")
	flags.BoolVar(&trace, "trace", false, "emit OpenTelemetry spans to stderr")

	return cmd
}

// fetchICEServers consults the room server's /api/config endpoint,
// the teacher's handleConfig equivalent, so ICE servers aren't baked
// into the client binary.
func fetchICEServers(cfg config.Client) ([]string, error) {
	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return cfg.ICEServers, err
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	configURL := fmt.Sprintf("%s://%s/api/config", scheme, u.Host)

	resp, err := http.Get(configURL)
	if err != nil {
		return cfg.ICEServers, err
	}
	defer resp.Body.Close()

	var body struct {
		StunServers []string `json:"stunServers"`
	}
	if err := readJSON(resp, &body); err != nil {
		return cfg.ICEServers, err
	}
	if len(body.StunServers) == 0 {
		return cfg.ICEServers, nil
	}
	return body.StunServers, nil
}

func runREPL(ctx context.Context, cfg config.Client, traceEnabled bool) error {
	logger := logging.New(os.Stderr, cfg.LogPretty)

	shutdownTracing, err := tracing.Init(ctx, "beamdrop", traceEnabled)
	if err != nil {
		return fmt.Errorf("beamdrop: init tracing: %w", err)
	}
	defer shutdownTracing(ctx)

	sig := signaling.New(cfg.ServerURL, logger)

	var myToken string
	coord := session.New(session.Config{
		ICEServers: cfg.ICEServers,
		DestDir:    cfg.DestDir,
		SpillDir:   cfg.SpillDir,
	}, sig, logger, session.Callbacks{
		OnToken: func(token string) {
			myToken = token
			fmt.Printf("your room token: %s\n", token)
		},
		OnStateChange: func(s model.ConnectionState) {
			fmt.Printf("state: %s\n", s)
		},
		OnIncomingRequest: func(peerToken string) {
			fmt.Printf("incoming connection request from %s (type: accept %s)\n", peerToken, peerToken)
		},
		OnChatMessage: func(peerToken, text string) {
			fmt.Printf("%s: %s\n", peerToken, text)
		},
		OnProgress: func(p model.Progress) {
			fmt.Printf("progress: %s %d/%d files, %s, %s\n", p.CurrentFileName, p.CompletedFiles, p.TotalFiles, p.SpeedLabel, p.ETALabel)
		},
		OnFileComplete: func(f receiver.CompletedFile) {
			fmt.Printf("received %s -> %s (sha256 %s)\n", f.Meta.Name, f.Path, f.SHA256)
		},
	})

	if err := sig.Dial(ctx); err != nil {
		return fmt.Errorf("beamdrop: dial signaling server: %w", err)
	}
	defer sig.Close()

	fmt.Println("commands: connect <token> | accept <token> | reject <token> | send <files...> | chat <text> | whoami | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "connect":
			if len(fields) < 2 {
				fmt.Println("usage: connect <token>")
				continue
			}
			if err := coord.Connect(fields[1]); err != nil {
				fmt.Printf("connect: %v\n", err)
			}
		case "accept":
			if len(fields) < 2 {
				fmt.Println("usage: accept <token>")
				continue
			}
			if err := coord.Accept(fields[1]); err != nil {
				fmt.Printf("accept: %v\n", err)
			}
		case "reject":
			if len(fields) < 2 {
				fmt.Println("usage: reject <token>")
				continue
			}
			if err := coord.Reject(fields[1]); err != nil {
				fmt.Printf("reject: %v\n", err)
			}
		case "send":
			if len(fields) < 2 {
				fmt.Println("usage: send <file> [file...]")
				continue
			}
			if err := sendFiles(ctx, coord, fields[1:]); err != nil {
				fmt.Printf("send: %v\n", err)
			}
		case "chat":
			if err := coord.SendChat(strings.Join(fields[1:], " ")); err != nil {
				fmt.Printf("chat: %v\n", err)
			}
		case "whoami":
			fmt.Println(myToken)
		case "quit", "exit":
			coord.Disconnect()
			return nil
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
	return scanner.Err()
}

func sendFiles(ctx context.Context, coord *session.Coordinator, paths []string) error {
	reqs := make([]sender.FileRequest, 0, len(paths))
	for _, p := range paths {
		reqs = append(reqs, sender.NewFileRequest(p, p))
	}
	return coord.SendFiles(ctx, reqs)
}

func readJSON(resp *http.Response, out interface{}) error {
	return json.NewDecoder(resp.Body).Decode(out)
}
