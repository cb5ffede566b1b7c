package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wippyai/fdtab/fdtable"
	"github.com/wippyai/fdtab/imgimport"
	"github.com/wippyai/fdtab/mount"
)

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := "/"
			if len(args) == 1 {
				p = args[0]
			}
			tab := newTable()
			entries, err := tab.ReadDir(p)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\n", e.Type, e.Name)
			}
			return w.Flush()
		},
	}
}

func catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Print a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tab := newTable()
			fd, err := tab.Open(args[0], 0, fdtable.ModeRead)
			if err != nil {
				return err
			}
			defer tab.Close(fd)
			_, err = io.Copy(cmd.OutOrStdout(), &reader{tab: tab, fd: fd})
			return err
		},
	}
}

func statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show file metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tab := newTable()
			fd, err := tab.Open(args[0], 0, fdtable.ModeRead)
			if err != nil {
				return err
			}
			defer tab.Close(fd)
			st, err := tab.Stat(fd)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "path\t%s\n", args[0])
			fmt.Fprintf(w, "inode\t%d\n", st.Ino)
			fmt.Fprintf(w, "mode\t%#o\n", st.Mode)
			fmt.Fprintf(w, "links\t%d\n", st.Nlink)
			fmt.Fprintf(w, "owner\t%d:%d\n", st.Uid, st.Gid)
			fmt.Fprintf(w, "size\t%d\n", st.Size)
			fmt.Fprintf(w, "blocks\t%d (%d)\n", st.Blocks, st.Blksize)
			fmt.Fprintf(w, "mtime\t%d.%09d\n", st.Mtime.Sec, st.Mtime.Nsec)
			return w.Flush()
		},
	}
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <local> <path>",
		Short: "Copy a host file into the mounted filesystem",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			tab := newTable()
			fd, err := tab.Open(args[1], fdtable.FlagCreate|fdtable.FlagTruncate, fdtable.ModeWrite)
			if err != nil {
				return err
			}
			defer tab.Close(fd)
			n, err := io.Copy(&writer{tab: tab, fd: fd}, src)
			if err != nil {
				return err
			}
			if err := tab.Flush(fd); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d bytes written to %s\n", n, args[1])
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <image|dir>",
		Short: "Import an extra image into the mounted filesystem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := mount.Open(cfg, instance)
			if err != nil {
				return err
			}
			opts := imgimport.Options{MaxFileSize: cfg.Image.MaxFileSize, Resize: cfg.Image.Resize}
			stats, err := imgimport.ImportImage(m.FS.Root(), args[0], opts)
			if err != nil {
				return err
			}
			if err := m.FS.Sync(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dirs %d, files %d (%d bytes), skipped %d, failed %d\n",
				stats.Dirs, stats.Files, stats.Bytes, stats.Skipped, stats.Failed)
			return nil
		},
	}
}

// reader adapts a descriptor to io.Reader.
type reader struct {
	tab *fdtable.Table
	fd  fdtable.Fd
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := r.tab.Read(r.fd, p)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

type writer struct {
	tab *fdtable.Table
	fd  fdtable.Fd
}

func (w *writer) Write(p []byte) (int, error) {
	return w.tab.Write(w.fd, p)
}
