// coordctl is the CLI for coordinatord.
//
// Commands:
//
//	coordctl create NAME --cpu N --firmware PATH   Configure a new client
//	coordctl start NAME                             Boot a configured client
//	coordctl stop NAME                              Shut a client down
//	coordctl status NAME                            Show a client's status line
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/openeuler-mirror/coordinatord/internal/config"
	"github.com/openeuler-mirror/coordinatord/internal/ctlclient"
	"github.com/openeuler-mirror/coordinatord/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	cl := ctlclient.New(cfg.SocketDir)
	ctx := context.Background()

	switch os.Args[1] {
	case "create":
		cmdCreate(ctx, cl)
	case "start":
		cmdStart(ctx, cl)
	case "stop":
		cmdStop(ctx, cl)
	case "status":
		cmdStatus(ctx, cl)
	case "version":
		fmt.Println(version.Version())
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: coordctl <command> [arguments]

commands:
  create NAME --cpu N --firmware PATH   configure a new client
  start NAME                            boot a configured client
  stop NAME                             shut a client down
  status NAME                           show a client's status line
  version                               print the coordctl version`)
}

// requireName returns os.Args[2], dying with a usage message if it's
// missing (mirrors the teacher's os.Args[3]-indexing cmdInstance* helpers).
func requireName() string {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: coordctl <command> NAME [arguments]")
		os.Exit(1)
	}
	return os.Args[2]
}

// parseCreateFlags walks the remaining args for --cpu and --firmware,
// matching parseRunFlags' plain string-comparison loop rather than
// reaching for the flag package.
func parseCreateFlags(args []string) (cpu uint32, firmware string) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--cpu":
			if i+1 < len(args) {
				i++
				n, err := strconv.ParseUint(args[i], 10, 32)
				if err != nil {
					fmt.Fprintf(os.Stderr, "invalid --cpu value %q: %v\n", args[i], err)
					os.Exit(1)
				}
				cpu = uint32(n)
			}
		case "--firmware":
			if i+1 < len(args) {
				i++
				firmware = args[i]
			}
		}
	}
	return cpu, firmware
}

func cmdCreate(ctx context.Context, cl *ctlclient.Client) {
	name := requireName()
	cpu, firmware := parseCreateFlags(os.Args[3:])
	if firmware == "" {
		fmt.Fprintln(os.Stderr, "usage: coordctl create NAME --cpu N --firmware PATH")
		os.Exit(1)
	}

	if err := cl.Create(ctx, ctlclient.CreateRequest{CPU: cpu, Name: name, FirmwarePath: firmware}); err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", name, err)
		os.Exit(1)
	}
	fmt.Printf("created %s\n", name)
}

func cmdStart(ctx context.Context, cl *ctlclient.Client) {
	name := requireName()
	if err := cl.Start(ctx, name); err != nil {
		fmt.Fprintf(os.Stderr, "start %s: %v\n", name, err)
		os.Exit(1)
	}
	fmt.Printf("started %s\n", name)
}

func cmdStop(ctx context.Context, cl *ctlclient.Client) {
	name := requireName()
	if err := cl.Stop(ctx, name); err != nil {
		fmt.Fprintf(os.Stderr, "stop %s: %v\n", name, err)
		os.Exit(1)
	}
	fmt.Printf("stopped %s\n", name)
}

func cmdStatus(ctx context.Context, cl *ctlclient.Client) {
	name := requireName()
	line, err := cl.Status(ctx, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status %s: %v\n", name, err)
		os.Exit(1)
	}
	fmt.Println(line)
}
