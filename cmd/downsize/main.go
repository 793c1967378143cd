//go:build linux

// Command downsize emulates a smaller machine for workload-sizing
// experiments: it takes CPUs offline and locks memory so the operating
// system behaves as if the hardware were that much smaller. The first
// invocation becomes a background daemon holding the resources; later
// invocations just send it a new target. `downsize 0 0` restores the
// machine and terminates the daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/carlosprados/downsize/internal/config"
	"github.com/carlosprados/downsize/internal/daemon"
	"github.com/carlosprados/downsize/internal/daemonize"
	"github.com/carlosprados/downsize/internal/memlock"
	"github.com/carlosprados/downsize/internal/rendezvous"
	"github.com/carlosprados/downsize/internal/version"
)

func usage(w io.Writer) {
	fmt.Fprintf(w, `Usage:
 downsize -h
 downsize [flags] <mem> [<ncpus>]
  where <ncpus> is number of cpus to disable (default is 0) and
        <mem> is amount of memory to disable (required, may be 0).
              Suffix indicates units, case-insensitive, either K, M, G, T,
              for KiB, MiB, GiB, TiB
Flags:
`)
	flag.CommandLine.SetOutput(w)
	flag.PrintDefaults()
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-h" {
		usage(os.Stdout)
		return
	}
	flag.Usage = func() { usage(os.Stderr) }
	cfgPath := flag.String("config", "", "path to TOML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	status := flag.Bool("status", false, "query a running daemon's status and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("downsize %s (%s)\n", version.Version, version.Commit)
		return
	}

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			fmt.Fprintf(os.Stderr, "downsize: %v\n", err)
			os.Exit(1)
		}
	}

	// The daemon child's stderr is already the log file; the foreground
	// command talks to the terminal.
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		NoColor:    daemonize.IsDaemon(),
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()

	if *status {
		os.Exit(runStatus(cfg))
	}

	if flag.NArg() < 1 || flag.NArg() > 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	membytes, err := parseMemArg(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "downsize: %v\n", err)
		usage(os.Stderr)
		os.Exit(1)
	}
	cpus := 0
	if flag.NArg() == 2 {
		if cpus, err = parseCPUArg(flag.Arg(1)); err != nil {
			fmt.Fprintf(os.Stderr, "downsize: %v\n", err)
			usage(os.Stderr)
			os.Exit(1)
		}
	}
	desired := rendezvous.Target{MemBytes: membytes, CPUs: cpus}

	if daemonize.IsDaemon() {
		os.Exit(runDaemon(cfg, desired))
	}

	// Foreground path: hand the target to a running daemon if there is
	// one, otherwise detach a new daemon to hold the resources.
	switch err := rendezvous.Send(cfg.FifoPath, desired); {
	case err == nil:
		fmt.Println("downsize: sent new target to running daemon")
	case errors.Is(err, rendezvous.ErrNoDaemon):
		pid, err := daemonize.Spawn(cfg.LogPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "downsize: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("downsize: forked off background process %d to acquire and hold resources, log at %s\n",
			pid, cfg.LogPath)
	default:
		fmt.Fprintf(os.Stderr, "downsize: %v\n", err)
		os.Exit(1)
	}
}

// runDaemon is the background instance: claim the endpoint, inventory the
// machine and converge until the terminal target.
func runDaemon(cfg config.Config, desired rendezvous.Target) int {
	log.Info().Str("version", version.Version).Msg("background process started")

	ep, err := rendezvous.Claim(cfg.FifoPath)
	if errors.Is(err, rendezvous.ErrBusy) {
		// Lost a spawn race: another instance claimed the endpoint
		// between our probe and now. Hand it our target instead.
		if err := sendWithRetry(cfg.FifoPath, desired); err != nil {
			log.Error().Err(err).Msg("forwarding target to winning daemon")
			return 1
		}
		log.Info().Msg("endpoint already owned, target forwarded")
		return 0
	}
	if err != nil {
		log.Error().Err(err).Msg("claiming rendezvous endpoint")
		return 1
	}
	if ep.ReusedStale() {
		log.Warn().Str("fifo", cfg.FifoPath).Msg("reusing rendezvous fifo left behind by a dead daemon")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := daemon.New(cfg, ep)
	if cfg.HTTPAddr != "" {
		srv := &http.Server{Addr: cfg.HTTPAddr, Handler: d.Router()}
		go func() {
			log.Info().Str("addr", cfg.HTTPAddr).Msg("status endpoint listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("status endpoint failed")
			}
		}()
		defer srv.Close()
	}

	if err := d.Run(ctx, desired); err != nil {
		if errors.Is(err, memlock.ErrLockPermission) {
			log.Error().Err(err).Msg("cannot pin memory, run with CAP_IPC_LOCK (e.g. via sudo)")
		} else {
			log.Error().Err(err).Msg("daemon failed")
		}
		return 1
	}
	log.Info().Msg("background process terminated")
	return 0
}

// sendWithRetry covers the window where the winning daemon has created
// the fifo but not yet opened its reading end.
func sendWithRetry(path string, t rendezvous.Target) error {
	var err error
	for attempt := 0; attempt < 10; attempt++ {
		if err = rendezvous.Send(path, t); !errors.Is(err, rendezvous.ErrNoDaemon) {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
	return err
}

// runStatus fetches the daemon's status JSON over the local HTTP
// endpoint. Retries cover a daemon that is still starting up.
func runStatus(cfg config.Config) int {
	if cfg.HTTPAddr == "" {
		fmt.Fprintln(os.Stderr, "downsize: status endpoint disabled, set http_addr in the config")
		return 1
	}
	addr := cfg.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	resp, err := client.Get("http://" + addr + "/v1/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "downsize: querying status: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "downsize: reading status: %v\n", err)
		return 1
	}
	fmt.Println(strings.TrimSpace(string(body)))
	return 0
}
