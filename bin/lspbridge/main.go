// lspbridge runs language server extension commands on shared buffers.
//
//	lspbridge [flags] host [file...]
//	lspbridge [flags] guest
//	lspbridge [flags] local
//
// The host starts the configured language server, opens the given files and
// serves guests on a unix socket. A guest joins the host and runs one
// command. Local mode runs one command without a host.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/golang/glog"

	"github.com/filmil/lspbridge/pkg/config"
	"github.com/filmil/lspbridge/pkg/text"
)

const (
	modeHost  = "host"
	modeGuest = "guest"
	modeLocal = "local"
)

func main() {
	// Set up glogging
	defer func() {
		glog.Flush()
	}()

	var (
		// The YAML configuration file.
		configFile string
		// Overrides for the configuration file.
		socketFile string
		dbFilename string
		projectID  uint64
		// The command to run, for guest and local modes.
		req          commandRequest
		line, column uint
		showVersion  bool
	)

	flag.StringVar(&configFile, "config", "", "The YAML configuration file")
	flag.StringVar(&socketFile, "socket-file", "", "The socket the host listens at, overrides the config file")
	flag.StringVar(&dbFilename, "db", "", "The file name for the edit history database, overrides the config file")
	flag.Uint64Var(&projectID, "project", 0, "The project id, overrides the config file")
	flag.StringVar(&req.name, "command", "", "The command to run: expand-macro, open-docs or switch-source-header")
	flag.StringVar(&req.file, "file", "", "The file to run the command on")
	flag.UintVar(&line, "line", 0, "The 0-based line of the command position")
	flag.UintVar(&column, "column", 0, "The 0-based UTF-16 column of the command position")
	flag.BoolVar(&showVersion, "version", false, "Print the version and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] host [file...] | guest | local\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Println(getVersion())
		return
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		glog.Fatalf("%v", err)
	}
	if socketFile != "" {
		cfg.Socket = socketFile
	}
	if dbFilename != "" {
		cfg.DB = dbFilename
	}
	if projectID != 0 {
		cfg.ProjectID = projectID
	}
	req.pos = text.PointUTF16{Row: uint32(line), Column: uint32(column)}
	if req.file != "" {
		if req.file, err = filepath.Abs(req.file); err != nil {
			glog.Fatalf("bad --file: %v", err)
		}
	}

	mode := flag.Arg(0)
	if err := cfg.Validate(mode != modeGuest); err != nil {
		glog.Fatalf("%v", err)
	}
	glog.Infof("lspbridge %v: mode %q, project %v", getVersion(), mode, cfg.ProjectID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case modeHost:
		err = runHost(ctx, cfg, flag.Args()[1:])
	case modeGuest:
		err = runGuest(ctx, cfg, req, os.Stdout)
	case modeLocal:
		err = runLocal(ctx, cfg, req, os.Stdout)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		glog.Fatalf("%v: %v", mode, err)
	}
	glog.Infof("exiting program")
}
