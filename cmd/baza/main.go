package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbme/baza/pkg/baza"
	"github.com/mbme/baza/pkg/crypto"
	"github.com/mbme/baza/pkg/document"
	"github.com/mbme/baza/pkg/events"
	"github.com/mbme/baza/pkg/ids"
	"github.com/mbme/baza/pkg/log"
	syncpkg "github.com/mbme/baza/pkg/sync"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "baza",
	Short: "Baza - a personal, encrypted, multi-device document store",
	Long: `Baza keeps your documents in a single encrypted directory on each
of your devices and syncs them peer-to-peer, with no server in the
middle and no account but the password you chose.`,
}

func init() {
	rootCmd.PersistentFlags().String("root", "", "store directory (required)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")
	_ = rootCmd.MarkPersistentFlagRequired("root")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(stageCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(eraseCmd)
	rootCmd.AddCommand(syncCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	asJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(level),
		JSONOutput: asJSON,
	})
}

// promptPassword reads the store password from BAZA_PASSWORD, falling
// back to an interactive prompt on stdin so the password never has to
// sit in shell history.
func promptPassword() ([]byte, error) {
	if pw := os.Getenv("BAZA_PASSWORD"); pw != "" {
		return []byte(pw), nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

func storeOptions() (string, baza.Options, error) {
	rootDir, _ := rootCmd.PersistentFlags().GetString("root")
	if rootDir == "" {
		return "", baza.Options{}, fmt.Errorf("--root is required")
	}

	password, err := promptPassword()
	if err != nil {
		return "", baza.Options{}, err
	}

	return rootDir, baza.Options{
		Password:    password,
		Registry:    newRegistry(),
		SchemaName:  "baza-cli-notes",
		DataVersion: 1,
	}, nil
}

func openStore(cmd *cobra.Command) (*baza.Baza, error) {
	rootDir, opts, err := storeOptions()
	if err != nil {
		return nil, err
	}
	return baza.Open(rootDir, opts)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new store at --root",
	RunE: func(cmd *cobra.Command, args []string) error {
		rootDir, opts, err := storeOptions()
		if err != nil {
			return err
		}

		store, err := baza.Create(rootDir, opts)
		if err != nil {
			return fmt.Errorf("creating store: %w", err)
		}
		defer store.Close()

		fmt.Printf("created store at %s, instance id %s\n", rootDir, store.InstanceId())
		return nil
	},
}

var stageCmd = &cobra.Command{
	Use:   "stage [id]",
	Short: "Stage a note edit; omit id to create a new document",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		body, _ := cmd.Flags().GetString("body")
		lockKey, _ := cmd.Flags().GetString("lock-key")

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		var id ids.Id
		if len(args) == 1 {
			id = ids.Id(args[0])
		}

		doc, err := store.Stage(baza.StageRequest{
			Id:           id,
			DocumentType: noteDocumentType,
			Data:         document.Data{"title": title, "body": body},
			LockKey:      lockKey,
		})
		if err != nil {
			return fmt.Errorf("staging: %w", err)
		}

		fmt.Printf("staged %s (rev %v)\n", doc.Id, doc.Rev)
		return nil
	},
}

func init() {
	stageCmd.Flags().String("title", "", "note title (required)")
	stageCmd.Flags().String("body", "", "note body")
	stageCmd.Flags().String("lock-key", "", "lock key, if the document is locked")
	_ = stageCmd.MarkFlagRequired("title")
}

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit every staged edit",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Commit(); err != nil {
			return fmt.Errorf("committing: %w", err)
		}

		fmt.Println("committed")
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print a document's current view (staged, else committed)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		doc, err := store.Get(ids.Id(args[0]))
		if err != nil {
			return err
		}
		return printJSON(doc)
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List every known document id",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		for _, id := range store.ListIds() {
			head, err := store.GetHead(id)
			if err != nil {
				continue
			}
			fmt.Printf("%s\terased=%v\tstaged=%v\tconflict=%v\n", id, head.IsErased(), head.IsStaged(), head.IsConflict())
		}
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Full-text search committed documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		results, err := store.Query(args[0], limit)
		if err != nil {
			return err
		}
		return printJSON(results)
	},
}

func init() {
	queryCmd.Flags().Int("limit", 20, "maximum results")
}

var lockCmd = &cobra.Command{
	Use:   "lock <id> <reason>",
	Short: "Lock a document against commit and sync",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		key, err := store.Lock(ids.Id(args[0]), args[1])
		if err != nil {
			return err
		}
		fmt.Printf("lock key: %s\n", key)
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <id> <key>",
	Short: "Release a document's lock",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		return store.Unlock(ids.Id(args[0]), args[1])
	},
}

var eraseCmd = &cobra.Command{
	Use:   "erase <id>",
	Short: "Stage a tombstone for a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lockKey, _ := cmd.Flags().GetString("lock-key")

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		_, err = store.Erase(ids.Id(args[0]), lockKey)
		return err
	},
}

func init() {
	eraseCmd.Flags().String("lock-key", "", "lock key, if the document is locked")
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Advertise this store and sync with every peer found on the local network",
	Long: `sync advertises this instance over mDNS-SD, listens for incoming
sync connections, and spends one discovery window looking for peers to
pull changes from. It runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		login, _ := cmd.Flags().GetString("login")
		app, _ := cmd.Flags().GetString("app")
		addr, _ := cmd.Flags().GetString("addr")
		port, _ := cmd.Flags().GetInt("port")
		authKeyHex, _ := cmd.Flags().GetString("auth-key")

		if login == "" || authKeyHex == "" {
			return fmt.Errorf("--login and --auth-key are required")
		}

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		authKey := crypto.NewSecretBytes([]byte(authKeyHex))

		selfCert, err := crypto.NewSelfSignedCertificate(string(store.InstanceId()))
		if err != nil {
			return fmt.Errorf("generating certificate: %w", err)
		}
		tlsCert, err := selfCert.TLSCertificate()
		if err != nil {
			return fmt.Errorf("loading certificate: %w", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		server := syncpkg.NewServer(store, authKey, &tlsCert)
		serverErrCh := make(chan error, 1)
		go func() {
			serverErrCh <- server.Start(ctx, addr)
		}()

		mdnsServer, err := syncpkg.Advertise(login, app, store.InstanceId(), port)
		if err != nil {
			return fmt.Errorf("advertising: %w", err)
		}
		defer mdnsServer.Shutdown()

		log.Logger.Info().Str("addr", addr).Msg("sync listening, discovering peers")

		peers, err := syncpkg.Discover(ctx, login, app, store.InstanceId(), syncpkg.DefaultDiscoveryWindow)
		if err != nil {
			return fmt.Errorf("discovering peers: %w", err)
		}

		var agents []syncpkg.Agent
		for _, peer := range peers {
			store.Events().Publish(&events.Event{
				Type:    events.EventPeerDiscovered,
				Message: fmt.Sprintf("discovered peer %s", peer.InstanceId),
				Metadata: map[string]string{
					"instance_id": string(peer.InstanceId),
					"host":        peer.Host,
					"port":        fmt.Sprint(peer.Port),
				},
			})

			baseURL := fmt.Sprintf("https://%s:%d", peer.Host, peer.Port)
			agents = append(agents, syncpkg.NewNetworkAgent(string(peer.InstanceId), baseURL, authKey, nil))
		}

		if len(agents) == 0 {
			fmt.Println("no peers found")
		} else {
			engine := syncpkg.NewEngine(store)
			summary, err := engine.SyncWith(ctx, agents)
			if err != nil {
				return err
			}
			fmt.Printf("synced with %d peer(s): %d documents applied, %d blobs fetched, %d errors\n",
				summary.PeersContacted, summary.DocumentsApplied, summary.BlobsFetched, len(summary.Errors))
			for _, syncErr := range summary.Errors {
				fmt.Fprintf(os.Stderr, "  %v\n", syncErr)
			}
		}

		fmt.Println("serving sync requests, press Ctrl+C to stop")
		<-ctx.Done()

		select {
		case err := <-serverErrCh:
			return err
		case <-time.After(time.Second):
			return nil
		}
	},
}

func init() {
	syncCmd.Flags().String("login", "", "pairing login that scopes mDNS discovery (required)")
	syncCmd.Flags().String("app", "baza", "pairing app name that scopes mDNS discovery")
	syncCmd.Flags().String("addr", ":4242", "address to listen for incoming sync connections")
	syncCmd.Flags().Int("port", 4242, "port advertised over mDNS")
	syncCmd.Flags().String("auth-key", "", "shared pairing secret, hex or plain text (required)")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
