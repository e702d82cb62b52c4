package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"nostr-lists/internal/app"
	"nostr-lists/internal/bunker"
	"nostr-lists/internal/config"
	"nostr-lists/internal/credential"
	"nostr-lists/internal/nips"
	"nostr-lists/internal/relay"
)

var (
	configPath string
	relayText  string
	nsecFlag   string
	npubFlag   string
	bunkerFlag string
	encryption string
	prompt     bool
	timeout    time.Duration
)

// reportedError marks an error the view has already shown
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

func reported(err error) error {
	if err == nil {
		return nil
	}
	return reportedError{err}
}

// Execute builds and runs the command tree
func Execute() error {
	root := newRootCmd()
	err := root.Execute()
	var shown reportedError
	if err != nil && !errors.As(err, &shown) {
		newTerminalView(os.Stderr).Status(app.LevelError, err.Error())
	}
	return err
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nostr-lists",
		Short:         "Edit encrypted Nostr people lists (kind 30000)",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default $"+config.EnvConfigPath+" or "+config.DefaultPath+")")
	flags.StringVar(&relayText, "relays", "", "relay URLs separated by commas or newlines, tried in order")
	flags.StringVar(&nsecFlag, "nsec", "", "secret key (nsec or hex); also read from $"+config.EnvSecret)
	flags.StringVar(&npubFlag, "npub", "", "public key (npub or hex) for a read-only session")
	flags.BoolVar(&prompt, "prompt", false, "prompt for the secret key without echo")
	flags.StringVar(&bunkerFlag, "bunker", "", "bunker:// URL of a NIP-46 remote signer")
	flags.StringVar(&encryption, "encryption", "", "local encryption scheme: nip04 or nip44")
	flags.DurationVar(&timeout, "timeout", 2*time.Minute, "overall command timeout")

	root.AddCommand(whoamiCmd(), listsCmd(), showCmd(), editCmd(), publishCmd())
	return root
}

// session is everything one command needs, built from flags and config
type session struct {
	cfg    *config.Config
	client *relay.Client
	signer *bunker.Session
	creds  *credential.Provider
	view   *terminalView
	app    *app.App
}

func commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func openSession(ctx context.Context, out io.Writer) (*session, error) {
	cfg, err := config.Load(config.Path(configPath))
	if err != nil {
		return nil, err
	}
	if relayText != "" {
		relays, rejected := config.ParseRelayList(relayText)
		for _, r := range rejected {
			slog.Warn("ignoring invalid relay", "relay", r)
		}
		if len(relays) == 0 {
			return nil, errors.New("--relays: no ws:// or wss:// relay given")
		}
		cfg.Relays = relays
	}
	if encryption != "" {
		cfg.Encryption = encryption
	}
	scheme, err := credential.ParseScheme(cfg.Encryption)
	if err != nil {
		return nil, err
	}

	relayOpts := relay.Options{
		HandshakeTimeout:    cfg.HandshakeTimeout.Std(),
		SubscriptionTimeout: cfg.SubscriptionTimeout.Std(),
		PublishTimeout:      cfg.PublishTimeout.Std(),
	}
	s := &session{
		cfg:    cfg,
		client: relay.NewClient(relayOpts),
		view:   newTerminalView(out),
	}

	secret := nsecFlag
	if secret == "" {
		secret = os.Getenv(config.EnvSecret)
	}
	if secret == "" && prompt {
		if secret, err = promptSecret(); err != nil {
			return nil, err
		}
	}
	opts := credential.Options{Secret: secret, PublicKey: npubFlag, Scheme: scheme}

	bunkerURL := bunkerFlag
	if bunkerURL == "" {
		bunkerURL = cfg.Bunker
	}
	if bunkerURL != "" {
		signer, err := connectBunker(ctx, bunkerURL, relayOpts, cfg.BunkerTimeout.Std())
		if err != nil {
			s.view.Status(app.LevelInfo, fmt.Sprintf("remote signer unavailable: %v", err))
		} else {
			s.signer = signer
			opts.Host = signer
		}
	}

	var creds app.Credentials
	s.creds, err = credential.Resolve(ctx, opts)
	switch {
	case err == nil:
		creds = s.creds
	case errors.Is(err, credential.ErrNoCredentialAvailable):
		slog.Debug("no credentials, session is unauthenticated")
	default:
		return nil, err
	}

	s.app = app.New(cfg.Relays, s.client, creds, s.view)
	return s, nil
}

func connectBunker(ctx context.Context, raw string, opts relay.Options, responseTimeout time.Duration) (*bunker.Session, error) {
	u, err := bunker.ParseURL(raw)
	if err != nil {
		return nil, err
	}
	signer, err := bunker.NewSession(u, relay.NewClient(opts), bunker.WithResponseTimeout(responseTimeout))
	if err != nil {
		return nil, err
	}
	if err := signer.Connect(ctx); err != nil {
		signer.Close()
		return nil, err
	}
	return signer, nil
}

func (s *session) Close() {
	slog.Debug("relay traffic", "relay", s.client.Manager().Endpoint(), "counters", s.client.Metrics().Snapshot())
	if err := s.client.Close(); err != nil {
		slog.Debug("closing relay connection", "error", err)
	}
	if s.signer != nil {
		s.signer.Close()
	}
}

// run opens a session, runs fn and closes the session
func run(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func whoamiCmd() *cobra.Command {
	var showQR, invert bool
	var pngPath string
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the resolved identity and what it can do",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, s *session) error {
				out := cmd.OutOrStdout()
				if s.creds == nil {
					return credential.ErrNoCredentialAvailable
				}
				pubkey, usesHost := s.creds.Identity()
				npub, err := nips.EncodePubkey(pubkey)
				if err != nil {
					return err
				}

				source := "local key"
				if usesHost {
					source = "remote signer"
				}
				fmt.Fprintf(out, "npub:    %s\nhex:     %s\nsession: %s (%s)\n", npub, pubkey, s.app.State(), source)

				if showQR || s.cfg.NpubQR {
					if err := writeQR(out, "nostr:"+npub, invert); err != nil {
						return err
					}
				}
				if pngPath != "" {
					if err := writeQRPNG(pngPath, "nostr:"+npub); err != nil {
						return err
					}
					s.view.Status(app.LevelSuccess, "wrote "+pngPath)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&showQR, "qr", false, "print the npub as a QR code")
	cmd.Flags().BoolVar(&invert, "invert", false, "invert QR colours for light terminals")
	cmd.Flags().StringVar(&pngPath, "qr-png", "", "write the npub QR code to a PNG file")
	return cmd
}

func listsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lists",
		Short: "Fetch and list your people lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, s *session) error {
				_, err := s.app.FetchLists(ctx)
				return reported(err)
			})
		},
	}
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <list-id>",
		Short: "Show the members of one list, decrypting private members when possible",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, s *session) error {
				s.view.hideLists = true
				if _, err := s.app.FetchLists(ctx); err != nil {
					return reported(err)
				}
				_, err := s.app.BeginEdit(ctx, args[0])
				return reported(err)
			})
		},
	}
}

func editCmd() *cobra.Command {
	var publicText, privateText, newID string
	var publish bool
	cmd := &cobra.Command{
		Use:   "edit [<list-id>]",
		Short: "Build and sign a new revision of a list",
		Long: `Build and sign a new revision of a list.

With a list id the current revision is loaded first and any of --public or
--private that is not given keeps its current members. Member values are keys
(hex or npub) separated by newlines, commas or spaces; "@file" reads them from
a file. The signed event is printed and, with --publish, sent to the relay.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, s *session) error {
				var draft app.Draft

				if len(args) == 1 {
					s.view.hideLists = true
					if _, err := s.app.FetchLists(ctx); err != nil {
						return reported(err)
					}
					rev, err := s.app.BeginEdit(ctx, args[0])
					if err != nil {
						return reported(err)
					}
					if rev.Locked && !cmd.Flags().Changed("private") {
						return errors.New("private members could not be decrypted; pass --private to replace them")
					}
					draft = app.Draft{ListID: rev.ListID, Public: rev.Public, Private: rev.Private}
				}

				if newID != "" {
					draft.ListID = newID
				}
				if cmd.Flags().Changed("public") {
					members, err := memberFlag("public", publicText)
					if err != nil {
						return err
					}
					draft.Public = members
				}
				if cmd.Flags().Changed("private") {
					members, err := memberFlag("private", privateText)
					if err != nil {
						return err
					}
					draft.Private = members
				}

				if _, err := s.app.BuildRevision(ctx, draft); err != nil {
					return reported(err)
				}
				if publish {
					_, err := s.app.PublishRevision(ctx, nil)
					return reported(err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&publicText, "public", "", "public members (p tags)")
	cmd.Flags().StringVar(&privateText, "private", "", "private members (encrypted content)")
	cmd.Flags().StringVar(&newID, "new-id", "", "list identifier for the new revision")
	cmd.Flags().BoolVar(&publish, "publish", false, "publish the signed revision")
	return cmd
}

func memberFlag(name, value string) ([]string, error) {
	members, rejected, err := readMembers(value, os.ReadFile)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	for _, r := range rejected {
		slog.Warn("ignoring invalid member key", "flag", name, "value", r)
	}
	return members, nil
}

func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <signed-event.json>",
		Short: "Publish a previously signed list event (- reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			evt, err := app.ParseSignedEvent(data)
			if err != nil {
				return err
			}

			return run(cmd, func(ctx context.Context, s *session) error {
				_, err := s.app.PublishRevision(ctx, evt)
				return reported(err)
			})
		},
	}
}
