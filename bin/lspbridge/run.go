package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/golang/glog"

	"github.com/filmil/lspbridge/pkg/config"
	"github.com/filmil/lspbridge/pkg/lspext"
	"github.com/filmil/lspbridge/pkg/lsproc"
	"github.com/filmil/lspbridge/pkg/project"
	"github.com/filmil/lspbridge/pkg/session"
	"github.com/filmil/lspbridge/pkg/store"
	"github.com/filmil/lspbridge/pkg/text"
)

const shutdownTimeout = 5 * time.Second

const (
	cmdExpandMacro        = "expand-macro"
	cmdOpenDocs           = "open-docs"
	cmdSwitchSourceHeader = "switch-source-header"
)

type commandRequest struct {
	name string
	// Absolute path of an open buffer.
	file string
	pos  text.PointUTF16
}

// runCommand runs the requested command on p, and writes the response to w
// as JSON.
func runCommand(ctx context.Context, p *project.Project, req commandRequest, w io.Writer) error {
	id, ok := p.BufferByPath(req.file)
	if !ok {
		return fmt.Errorf("not open in project %v: %v", p.ID(), req.file)
	}
	buf, _ := p.Buffer(id)
	snap := buf.Snapshot()
	var (
		resp any
		err  error
	)
	switch req.name {
	case cmdExpandMacro:
		resp, err = project.Request[lspext.ExpandedMacro](ctx, p, id, lspext.NewExpandMacro(snap, req.pos))
	case cmdOpenDocs:
		resp, err = project.Request[lspext.DocsURLs](ctx, p, id, lspext.NewOpenDocs(snap, req.pos))
	case cmdSwitchSourceHeader:
		resp, err = project.Request[lspext.SwitchSourceHeaderResult](ctx, p, id, lspext.SwitchSourceHeader{})
	default:
		return fmt.Errorf("unknown command: %q", req.name)
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// openDB opens the edit history, creating it if needed.
func openDB(dbFilename string) (*sql.DB, error) {
	needsInit, err := store.CreateDBFile(dbFilename)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(store.PureDriver, dbFilename)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %v: %w", dbFilename, err)
	}
	if needsInit {
		glog.Infof("creating a new database: %s", dbFilename)
	}
	if err := store.CreateSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create: %v: %w", dbFilename, err)
	}
	var dbVer string
	if err := db.QueryRow("select sqlite_version()").Scan(&dbVer); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not read db version: %v: %w", dbFilename, err)
	}
	glog.V(1).Infof("sqlite3 version: %v: %v", dbFilename, dbVer)
	return db, nil
}

func startServer(ctx context.Context, cfg config.Config) (*lsproc.Client, func(), error) {
	ls, err := lsproc.Start(ctx, cfg.Server)
	if err != nil {
		return nil, nil, err
	}
	return ls, func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := ls.Shutdown(ctx); err != nil {
			glog.Warningf("language server shutdown: %v", err)
		}
	}, nil
}

func runHost(ctx context.Context, cfg config.Config, files []string) error {
	db, err := openDB(cfg.DB)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			glog.Infof("error closing database: %v: %v", cfg.DB, err)
		}
	}()
	journal := store.NewJournal(db, cfg.ProjectID)

	ls, shutdown, err := startServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ls.Done():
			glog.Warningf("language server went away")
			cancel()
		case <-ctx.Done():
		}
	}()

	p := project.New(project.Options{
		ProjectID:  cfg.ProjectID,
		Server:     ls,
		LanguageID: cfg.Server.LanguageID,
		Journal:    journal,
	})
	restored, err := journal.Restore(ctx)
	if err != nil {
		return err
	}
	for _, r := range restored {
		if err := p.RestoreBuffer(ctx, r.ID, r.Path, r.BaseText, r.Operations); err != nil {
			return err
		}
	}
	for _, f := range files {
		if err := openFile(ctx, p, f); err != nil {
			return err
		}
	}

	// Allow net.Listen to create the comms socket - remove it if it exists.
	if err := os.Remove(cfg.Socket); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("could not remove socket: %w", err)
	}
	l, err := net.Listen("unix", cfg.Socket)
	if err != nil {
		return fmt.Errorf("could not listen to socket: %v: %w", cfg.Socket, err)
	}
	h := session.NewHost(ctx, p)
	p.SetBroadcaster(h)
	defer h.Close()
	return h.Serve(l)
}

func openFile(ctx context.Context, p *project.Project, f string) error {
	path, err := filepath.Abs(f)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read: %w", err)
	}
	_, err = p.OpenBuffer(ctx, path, string(content))
	return err
}

func runGuest(ctx context.Context, cfg config.Config, req commandRequest, w io.Writer) error {
	p := project.New(project.Options{ProjectID: cfg.ProjectID})
	c, err := session.Dial(ctx, "unix", cfg.Socket, p.HandleMessage)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := p.Join(ctx, c); err != nil {
		return err
	}
	return runCommand(ctx, p, req, w)
}

func runLocal(ctx context.Context, cfg config.Config, req commandRequest, w io.Writer) error {
	ls, shutdown, err := startServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown()
	p := project.New(project.Options{
		ProjectID:  cfg.ProjectID,
		Server:     ls,
		LanguageID: cfg.Server.LanguageID,
	})
	if err := openFile(ctx, p, req.file); err != nil {
		return err
	}
	return runCommand(ctx, p, req, w)
}
