package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"draconia.gg/internal/persistence/savedb"
	"draconia.gg/internal/persistence/snapshot"
	"draconia.gg/internal/sim/state"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "backups":
			backupsCmd(os.Args[2:])
			return
		case "export":
			exportCmd(os.Args[2:])
			return
		case "import":
			importCmd(os.Args[2:])
			return
		case "restore":
			restoreCmd(os.Args[2:])
			return
		case "delete":
			deleteCmd(os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func open(dbPath string) *savedb.Store {
	s, err := savedb.Open(dbPath, savedb.Options{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return s
}

func dbFlag(fs *flag.FlagSet) *string {
	return fs.String("db", "./data/saves.sqlite", "save database path")
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dbPath := dbFlag(fs)
	_ = fs.Parse(args)

	s := open(*dbPath)
	defer s.Close()
	ps, err := s.Profiles(context.Background())
	if err != nil {
		fail("profiles", err)
	}
	for _, p := range ps {
		fmt.Printf("%-24s step=%-10d checksum=%s size=%s backups=%d saved %s\n",
			p.Profile, p.Step, p.Checksum, humanize.Bytes(uint64(p.Size)), p.Backups, humanize.Time(p.UpdatedAt))
	}
}

func backupsCmd(args []string) {
	fs := flag.NewFlagSet("backups", flag.ExitOnError)
	dbPath := dbFlag(fs)
	profile := fs.String("profile", "", "profile id")
	_ = fs.Parse(args)

	s := open(*dbPath)
	defer s.Close()
	bs, err := s.Backups(context.Background(), *profile)
	if err != nil {
		fail("backups", err)
	}
	for _, b := range bs {
		fmt.Printf("step=%-10d checksum=%s size=%s saved %s\n", b.Step, b.Checksum, humanize.Bytes(uint64(b.Size)), humanize.Time(b.SavedAt))
	}
}

func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dbPath := dbFlag(fs)
	profile := fs.String("profile", "", "profile id")
	out := fs.String("out", "", "output file (default <profile>.save.zst)")
	_ = fs.Parse(args)

	if *profile == "" {
		fmt.Fprintln(os.Stderr, "missing -profile")
		os.Exit(2)
	}
	path := *out
	if path == "" {
		path = *profile + ".save.zst"
	}
	s := open(*dbPath)
	defer s.Close()
	f, err := os.Create(path)
	if err != nil {
		fail("create", err)
	}
	b, err := s.Export(context.Background(), *profile, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		fail("export", err)
	}
	fmt.Printf("exported %s step=%d digest=%s -> %s\n", b.ProfileID, b.Step, b.Digest[:16], path)
}

func importCmd(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dbPath := dbFlag(fs)
	profile := fs.String("profile", "", "target profile (default: the bundle's)")
	in := fs.String("in", "", "bundle file or http(s) url")
	_ = fs.Parse(args)

	r, err := openInput(*in)
	if err != nil {
		fail("open", err)
	}
	defer r.Close()

	s := open(*dbPath)
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	b, err := s.Import(ctx, r, *profile)
	if err != nil {
		fail("import", err)
	}
	target := *profile
	if target == "" {
		target = b.ProfileID
	}
	fmt.Printf("imported %s step=%d exported %s as %s\n", b.ProfileID, b.Step, b.ExportedAt, target)
}

func openInput(in string) (io.ReadCloser, error) {
	in = strings.TrimSpace(in)
	if in == "" {
		return nil, fmt.Errorf("missing -in")
	}
	if strings.HasPrefix(in, "http://") || strings.HasPrefix(in, "https://") {
		cl := &http.Client{Timeout: 30 * time.Second}
		resp, err := cl.Get(in)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode/100 != 2 {
			resp.Body.Close()
			return nil, fmt.Errorf("GET %s: %s", in, resp.Status)
		}
		return resp.Body, nil
	}
	return os.Open(in)
}

func restoreCmd(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	dbPath := dbFlag(fs)
	profile := fs.String("profile", "", "profile id")
	step := fs.Uint64("step", 0, "backup step to promote")
	_ = fs.Parse(args)

	s := open(*dbPath)
	defer s.Close()
	if err := s.RestoreBackup(context.Background(), *profile, *step); err != nil {
		fail("restore", err)
	}
	fmt.Printf("restored %s to step %d\n", *profile, *step)
}

func deleteCmd(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	dbPath := dbFlag(fs)
	profile := fs.String("profile", "", "profile id")
	_ = fs.Parse(args)

	s := open(*dbPath)
	defer s.Close()
	if err := s.Delete(context.Background(), *profile); err != nil {
		fail("delete", err)
	}
	fmt.Printf("deleted %s\n", *profile)
}

// inspectCmd decodes a save and prints a summary of the dragon's run.
func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dbPath := dbFlag(fs)
	profile := fs.String("profile", "", "profile id")
	file := fs.String("file", "", "snapshot file (.snap.zst) instead of a profile")
	_ = fs.Parse(args)

	var snap snapshot.Snapshot
	if *file != "" {
		_, s, err := snapshot.ReadFile(*file)
		if err != nil {
			fail("read", err)
		}
		snap = s
	} else {
		s := open(*dbPath)
		defer s.Close()
		got, err := s.LoadState(context.Background(), *profile)
		if err != nil {
			fail("load", err)
		}
		snap = got
	}
	st, err := snapshot.Restore(snap.Bytes, snap.Checksum)
	if err != nil {
		fail("restore", err)
	}
	printState(os.Stdout, &st, len(snap.Bytes))
}

func printState(w io.Writer, st *state.SimState, size int) {
	d := st.Dragon
	fmt.Fprintf(w, "step        %s\n", humanize.Comma(int64(st.Step)))
	fmt.Fprintf(w, "seed        %d\n", st.Seed)
	fmt.Fprintf(w, "land/ward   %d-%d  distance %.1fm\n", st.Land, st.Ward, st.Distance)
	fmt.Fprintf(w, "hp          %s / %s\n", d.Health.HP.String(), d.Health.MaxHP.String())
	fmt.Fprintf(w, "gold        %s\n", st.Gold.String())
	fmt.Fprintf(w, "arcana      %s  soul power %s\n", st.Arcana.String(), st.SoulPower.String())
	fmt.Fprintf(w, "kills       %s  bosses %d\n", humanize.Comma(int64(st.Kills)), st.BossesDefeated)
	fmt.Fprintf(w, "enemies     %d  projectiles %d\n", len(st.Enemies), len(st.Projectiles))
	fmt.Fprintf(w, "state size  %s\n", humanize.Bytes(uint64(size)))
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8090", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/state"
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fail("request", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
