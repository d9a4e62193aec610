// Command peer runs one swarm participant: the peer-service (serving
// GET_BITVECTOR/GET_PIECE to other peers) and the interactive session
// against the coordinator.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swarmkeep/internal/bootstrap"
	"swarmkeep/internal/peerservice"
	"swarmkeep/internal/piecestore"
	"swarmkeep/internal/presentation"
	"swarmkeep/internal/session"
)

func main() {
	var (
		trackersFile string
		coordAddr    string
		advertiseIP  string
		peerListen   string
		devLog       bool
		cacheMB      int64
	)

	root := &cobra.Command{
		Use:   "peer",
		Short: "Run a swarmkeep peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := coordAddr
			if addr == "" {
				resolved, err := bootstrap.ReadCoordinatorAddr(trackersFile)
				if err != nil {
					return err
				}
				addr = resolved
			}
			return run(addr, advertiseIP, peerListen, devLog, cacheMB)
		},
	}
	root.Flags().StringVar(&trackersFile, "trackers-file", "trackers.txt", "file containing the coordinator address")
	root.Flags().StringVar(&coordAddr, "coordinator", "", "coordinator host:port (overrides --trackers-file)")
	root.Flags().StringVar(&advertiseIP, "advertise-ip", "127.0.0.1", "IP address this peer advertises to the coordinator")
	root.Flags().StringVar(&peerListen, "peer-listen", ":0", "local peer-service listen address")
	root.Flags().BoolVar(&devLog, "dev-log", false, "use human-readable development logging instead of JSON")
	root.Flags().Int64Var(&cacheMB, "piece-cache-mb", 8, "approximate piece cache size in megabytes (0 disables caching)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(coordAddr, advertiseIP, peerListen string, devLog bool, cacheMB int64) error {
	log, err := newLogger(devLog)
	if err != nil {
		return err
	}
	defer log.Sync()

	store := piecestore.NewStore()

	var cache *piecestore.PieceCache
	if cacheMB > 0 {
		maxPieces := (cacheMB * 1024 * 1024) / piecestore.PieceSize
		if maxPieces < 1 {
			maxPieces = 1
		}
		cache, err = piecestore.NewPieceCache(maxPieces)
		if err != nil {
			return fmt.Errorf("create piece cache: %w", err)
		}
		defer cache.Close()
	}

	ln, err := net.Listen("tcp", peerListen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", peerListen, err)
	}
	peerAddr := peerservice.FormatAddr(ln, advertiseIP)
	log.Info("peer-service listening", zap.String("addr", peerAddr))

	svc := peerservice.New(store, cache, log)
	go func() {
		if err := svc.Serve(ln); err != nil {
			log.Debug("peer-service accept loop exited", zap.Error(err))
		}
	}()

	sess := session.New(coordAddr, peerAddr, store, log)
	defer sess.Close()

	runInteractive(sess, log)
	return nil
}

// runInteractive is the local command shell: help/quit/show_downloads are
// handled locally, upload_file/download_file are pre/post-processed,
// everything else is forwarded verbatim.
func runInteractive(sess *session.Session, log *zap.Logger) {
	fmt.Println("swarmkeep peer. Type 'help' for commands, 'quit' to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		name, args := fields[0], fields[1:]

		switch name {
		case "help":
			printHelp()
		case "quit":
			fmt.Println("bye")
			return
		case "show_downloads":
			printLocalFiles(sess)
		case "login":
			if len(args) != 2 {
				fmt.Println("usage: login <user> <password>")
				continue
			}
			reply, err := sess.Login(args[0], args[1])
			printReply(reply, err)
		case "upload_file":
			if len(args) != 2 {
				fmt.Println("usage: upload_file <path> <group>")
				continue
			}
			reply, err := sess.UploadFile(args[0], args[1])
			printReply(reply, err)
		case "download_file":
			if len(args) < 2 {
				fmt.Println("usage: download_file <group> <file> [dest]")
				continue
			}
			dest := args[1]
			if len(args) >= 3 {
				dest = args[2]
			}
			result, err := sess.DownloadFile(args[0], args[1], dest)
			if err != nil {
				fmt.Printf("ERROR: %v\n", err)
				continue
			}
			if result.Complete() {
				fmt.Printf("download complete: %s\n", dest)
			} else {
				fmt.Printf("download finished with gaps: %d unassigned, %d failed\n",
					len(result.UnassignedPieces), len(result.FailedPieces))
			}
		default:
			reply, err := sess.Command(name, args)
			printReply(reply, err)
		}
	}
}

func printReply(reply session.Reply, err error) {
	if err != nil {
		fmt.Println(presentation.Line("ERROR: " + err.Error()))
		return
	}
	if reply.Block != nil {
		fmt.Println(presentation.Block(reply.Block.Name, reply.Block.Args))
		return
	}
	fmt.Println(presentation.Line(reply.Line))
}

func printLocalFiles(sess *session.Session) {
	files := sess.LocalFiles()
	if len(files) == 0 {
		fmt.Println(presentation.Line("no local files"))
		return
	}
	for key, info := range files {
		present := 0
		for _, bit := range info.Bits {
			if bit {
				present++
			}
		}
		fmt.Println(presentation.LocalFile(key, present, info.PieceCount, info.Size))
	}
}

func printHelp() {
	fmt.Println(`local commands: help, quit, show_downloads
forwarded to the coordinator: create_user, login, logout, create_group,
join_group, leave_group, list_groups, list_requests, accept_request,
upload_file, list_files, download_file, update_seeder`)
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
