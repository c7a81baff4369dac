package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/BurntSushi/toml"
	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"
)

// RemotesConfig is the cartctl profile file: named carts deployments and the
// one commands talk to by default.
type RemotesConfig struct {
	Active  string            `toml:"active"`
	Remotes map[string]Remote `toml:"remotes"`
}

// Remote is one cartd deployment. URL serves the command API and the
// monitor socket; GRPCAddr and NATSURL are optional.
type Remote struct {
	URL         string `toml:"url"`
	GRPCAddr    string `toml:"grpc_addr,omitempty"`
	NATSURL     string `toml:"nats_url,omitempty"`
	Description string `toml:"description,omitempty"`
}

// normalize checks every endpoint of r and returns it with the HTTP URL
// trimmed of trailing slashes.
func (r Remote) normalize() (Remote, error) {
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return r, fmt.Errorf("invalid url %q: want http(s)://host[:port]", r.URL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return r, fmt.Errorf("invalid url %q: query and fragment are not allowed", r.URL)
	}
	r.URL = strings.TrimRight(r.URL, "/")

	if r.GRPCAddr != "" {
		host, port, err := net.SplitHostPort(r.GRPCAddr)
		if err != nil {
			return r, fmt.Errorf("invalid grpc address %q: %w", r.GRPCAddr, err)
		}
		if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 || host == "" {
			return r, fmt.Errorf("invalid grpc address %q: want host:port", r.GRPCAddr)
		}
	}

	if r.NATSURL != "" {
		u, err := url.Parse(r.NATSURL)
		if err != nil || u.Host == "" {
			return r, fmt.Errorf("invalid nats url %q", r.NATSURL)
		}
		switch u.Scheme {
		case "nats", "tls", "ws", "wss":
		default:
			return r, fmt.Errorf("invalid nats url %q: scheme must be nats, tls, ws or wss", r.NATSURL)
		}
	}
	return r, nil
}

func validRemoteName(name string) error {
	if name == "" || strings.ContainsFunc(name, func(r rune) bool { return r == ' ' || r == '\t' || r == '/' }) {
		return fmt.Errorf("invalid remote name %q", name)
	}
	return nil
}

func remoteConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".local", "state", "carts")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "remotes.toml"), nil
}

func loadRemotesConfig() (RemotesConfig, error) {
	path, err := remoteConfigPath()
	if err != nil {
		return RemotesConfig{}, err
	}
	cfg := RemotesConfig{Remotes: map[string]Remote{}}
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return RemotesConfig{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if cfg.Remotes == nil {
		cfg.Remotes = map[string]Remote{}
	}
	return cfg, nil
}

// saveRemotesConfig replaces the profile file atomically.
func saveRemotesConfig(cfg RemotesConfig) error {
	path, err := remoteConfigPath()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return err
	}
	return renameio.WriteFile(path, buf.Bytes(), 0o600)
}

// lookup returns the named remote, or the active one when name is empty.
func (cfg RemotesConfig) lookup(name string) (string, Remote, error) {
	if name == "" {
		name = cfg.Active
	}
	if name == "" {
		return "", Remote{}, errors.New("no active remote; specify a name or run 'cartctl remote use <name>'")
	}
	r, ok := cfg.Remotes[name]
	if !ok {
		return "", Remote{}, fmt.Errorf("remote %q not found", name)
	}
	return name, r, nil
}

// activeRemote is read once per process; a missing or unreadable profile
// file means no active remote.
var activeRemote = sync.OnceValue(func() Remote {
	cfg, err := loadRemotesConfig()
	if err != nil {
		return Remote{}
	}
	_, r, err := cfg.lookup("")
	if err != nil {
		return Remote{}
	}
	return r
})

var remoteCmd = &cobra.Command{
	Use:     "remote",
	Short:   "Manage named carts deployments",
	GroupID: "system",
	// All remote subcommands are local file operations.
	PersistentPreRunE: skipClient,
}

var remoteAddCmd = &cobra.Command{
	Use:   "add <name> <http-url>",
	Short: "Add or update a deployment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if err := validRemoteName(name); err != nil {
			return err
		}
		grpcAddr, _ := cmd.Flags().GetString("grpc")
		natsURL, _ := cmd.Flags().GetString("nats")
		desc, _ := cmd.Flags().GetString("description")
		use, _ := cmd.Flags().GetBool("use")

		r, err := Remote{URL: args[1], GRPCAddr: grpcAddr, NATSURL: natsURL, Description: desc}.normalize()
		if err != nil {
			return err
		}
		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		_, existed := cfg.Remotes[name]
		cfg.Remotes[name] = r
		if use {
			cfg.Active = name
		}
		if err := saveRemotesConfig(cfg); err != nil {
			return err
		}

		verb := "added"
		if existed {
			verb = "updated"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "remote %q %s (%s)\n", name, verb, r.URL)
		if use {
			fmt.Fprintf(cmd.OutOrStdout(), "active remote set to %q\n", name)
		}
		return nil
	},
}

var remoteRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		name, _, err := cfg.lookup(args[0])
		if err != nil {
			return err
		}
		delete(cfg.Remotes, name)
		if cfg.Active == name {
			cfg.Active = ""
		}
		if err := saveRemotesConfig(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "remote %q removed\n", name)
		return nil
	},
}

var remoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deployments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		return printRemotes(cmd.OutOrStdout(), cfg)
	},
}

func printRemotes(out io.Writer, cfg RemotesConfig) error {
	if len(cfg.Remotes) == 0 {
		fmt.Fprintln(out, "no remotes configured")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  NAME\tURL\tGRPC\tNATS\tDESCRIPTION")
	for _, name := range slices.Sorted(maps.Keys(cfg.Remotes)) {
		r := cfg.Remotes[name]
		marker := "  "
		if name == cfg.Active {
			marker = "* "
		}
		fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\t%s\n", marker, name, r.URL, dash(r.GRPCAddr), dash(r.NATSURL), r.Description)
	}
	return w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

var remoteUseCmd = &cobra.Command{
	Use:   "use [name]",
	Short: "Set the active deployment (no args clears it)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		if len(args) == 0 {
			cfg.Active = ""
			if err := saveRemotesConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "active remote cleared")
			return nil
		}
		name, _, err := cfg.lookup(args[0])
		if err != nil {
			return err
		}
		cfg.Active = name
		if err := saveRemotesConfig(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "active remote set to %q\n", name)
		return nil
	},
}

var remoteShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show the endpoints of a deployment (defaults to active)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		var want string
		if len(args) == 1 {
			want = args[0]
		}
		name, r, err := cfg.lookup(want)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		active := ""
		if name == cfg.Active {
			active = " (active)"
		}
		fmt.Fprintf(w, "name:\t%s%s\n", name, active)
		if r.Description != "" {
			fmt.Fprintf(w, "description:\t%s\n", r.Description)
		}
		fmt.Fprintf(w, "url:\t%s\n", r.URL)
		if monitor, err := watchURL(r.URL); err == nil {
			fmt.Fprintf(w, "monitor:\t%s\n", monitor)
		}
		fmt.Fprintf(w, "grpc_addr:\t%s\n", dash(r.GRPCAddr))
		fmt.Fprintf(w, "nats_url:\t%s\n", dash(r.NATSURL))
		return w.Flush()
	},
}

func init() {
	remoteAddCmd.Flags().String("grpc", "", "gRPC host:port for --transport grpc")
	remoteAddCmd.Flags().String("nats", "", "NATS URL for cartctl tail")
	remoteAddCmd.Flags().String("description", "", "human-readable description of the deployment")
	remoteAddCmd.Flags().Bool("use", false, "make this the active remote")

	remoteCmd.AddCommand(remoteAddCmd)
	remoteCmd.AddCommand(remoteRemoveCmd)
	remoteCmd.AddCommand(remoteListCmd)
	remoteCmd.AddCommand(remoteUseCmd)
	remoteCmd.AddCommand(remoteShowCmd)
}
