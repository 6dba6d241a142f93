package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dignifiedquire/iroh-drop/internal/logger"
	"github.com/dignifiedquire/iroh-drop/internal/node"
)

var (
	runName    string
	runListen  string
	runDataDir string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "runs an iroh-drop node",
	Long:  `runs an iroh-drop node: announces itself on the local network, accepts incoming files, and reads commands from stdin`,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.New()

		name := runName
		if name == "" {
			hostname, err := os.Hostname()
			if err != nil {
				hostname = "anonymous"
			}
			name = hostname
		}

		dataDir := runDataDir
		if dataDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				log.Fatal(err)
				return
			}
			dataDir = filepath.Join(home, ".iroh-drop")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		n, err := node.New(node.Options{
			Name:       name,
			ListenAddr: runListen,
			DataDir:    dataDir,
			Logger:     log,
		})
		if err != nil {
			log.Fatal(err)
			return
		}
		defer n.Close()

		n.OnDiscovery = func(name, id string) {
			fmt.Printf("discovered %s (%s)\n", name, id)
		}
		n.OnFileDownloaded = func(name, hash string, size uint64) {
			fmt.Printf("received %s (%d bytes, %s)\n", name, size, hash)
		}

		fmt.Printf("running as %q, node id %s\n", name, n.IDString())

		go func() {
			if err := n.Run(ctx); err != nil {
				log.Errorf("node stopped: %v", err)
				cancel()
			}
		}()

		repl(ctx, cancel, n)
	},
}

// repl reads commands from stdin until quit or the context ends.
func repl(ctx context.Context, cancel context.CancelFunc, n *node.Node) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("exiting...")
			return
		case line, ok := <-lines:
			if !ok {
				cancel()
				return
			}
			if quit := dispatch(ctx, n, line); quit {
				cancel()
				return
			}
		}
	}
}

func dispatch(ctx context.Context, n *node.Node, line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "peers":
		peers := n.Discover(ctx)
		if len(peers) == 0 {
			fmt.Println("no peers found")
			return false
		}
		for _, p := range peers {
			fmt.Printf("%s  %s\n", p.ID, p.Name)
		}
	case "send":
		if len(fields) != 3 {
			fmt.Println("usage: send <peer-id> <path>")
			return false
		}
		data, err := os.ReadFile(fields[2])
		if err != nil {
			fmt.Println(err)
			return false
		}
		fileName := filepath.Base(fields[2])
		if err := n.SendFile(ctx, fields[1], fileName, data); err != nil {
			fmt.Println(err)
			return false
		}
		fmt.Printf("sent %s (%d bytes)\n", fileName, len(data))
	case "history":
		transfers, err := n.Recent(20)
		if err != nil {
			fmt.Println(err)
			return false
		}
		if len(transfers) == 0 {
			fmt.Println("no transfers yet")
			return false
		}
		for _, tr := range transfers {
			fmt.Printf("%s  %-7s  %s  %d bytes  %s\n",
				time.Unix(tr.CreatedAt, 0).Format("15:04:05"), tr.Direction, tr.FileName, tr.Size, tr.PeerName)
		}
	case "quit", "exit":
		return true
	case "help":
		fmt.Println("commands: peers, send <peer-id> <path>, history, quit")
	default:
		fmt.Printf("unknown command %q, try help\n", fields[0])
	}
	return false
}

func init() {
	runCmd.Flags().StringVar(&runName, "name", "", "display name announced to peers (default: hostname)")
	runCmd.Flags().StringVar(&runListen, "listen", "0.0.0.0:0", "UDP address to listen on")
	runCmd.Flags().StringVar(&runDataDir, "data-dir", "", "directory for received blobs and the transfer history (default: ~/.iroh-drop)")
}
