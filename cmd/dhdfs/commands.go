package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/marmos91/dittohdfs/pkg/config"
	"github.com/marmos91/dittohdfs/pkg/fserror"
	"github.com/marmos91/dittohdfs/pkg/hdfs"
)

const defaultPeekSize = 1024

func addCommands(root *cobra.Command, s *session) {
	root.AddCommand(
		lsCommand(s),
		catCommand(s),
		infoCommand(s),
		mkdirCommand(s),
		rmCommand(s),
		rmdirCommand(s),
		mvCommand(s),
		existsCommand(s),
		chmodCommand(s),
		chownCommand(s),
		setReplicationCommand(s),
		blockLocationsCommand(s),
		toLocalCommand(s),
		toHDFSCommand(s),
		getMergeCommand(s),
		duCommand(s),
		dfCommand(s),
		summaryCommand(s),
		peekCommand(s, "head"),
		peekCommand(s, "tail"),
		touchCommand(s),
		globCommand(s),
		initCommand(s),
	)
}

func lsCommand(s *session) *cobra.Command {
	var long, human bool
	cmd := &cobra.Command{
		Use:   "ls PATH",
		Short: "List a directory",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show permissions, owner, size and modification time")
	cmd.Flags().BoolVarP(&human, "human-readable", "H", false, "Print sizes in human readable form")
	cmd.RunE = s.withFS(func(ctx context.Context, fs *hdfs.FileSystem, args []string) error {
		entries, err := fs.List(ctx, args[0])
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !long {
				fmt.Fprintln(s.stdout, e.Name)
				continue
			}
			fmt.Fprintf(s.stdout, "%s %s %s %s %s %s\n",
				e.Mode(), e.Owner, e.Group, formatSize(e.Size, human),
				e.ModTime.Format("2006-01-02 15:04"), e.Name)
		}
		return nil
	})
	return cmd
}

func catCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cat PATH",
		Short: "Write a file to standard output",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = s.withFS(func(ctx context.Context, fs *hdfs.FileSystem, args []string) error {
		_, err := fs.Cat(ctx, args[0], s.stdout)
		return err
	})
	return cmd
}

func infoCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info PATH",
		Short: "Show the metadata of a path",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = s.withFS(func(ctx context.Context, fs *hdfs.FileSystem, args []string) error {
		info, err := fs.Stat(ctx, args[0])
		if err != nil {
			return err
		}
		return printYAML(s.stdout, newPathDoc(info))
	})
	return cmd
}

func mkdirCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkdir PATH",
		Short: "Create a directory and its missing parents",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = s.withFS(func(ctx context.Context, fs *hdfs.FileSystem, args []string) error {
		return fs.Mkdir(ctx, args[0])
	})
	return cmd
}

func rmCommand(s *session) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "rm PATH",
		Short: "Remove a file or directory",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Remove directories and their contents")
	cmd.RunE = s.withFS(func(ctx context.Context, fs *hdfs.FileSystem, args []string) error {
		return fs.Delete(ctx, args[0], recursive)
	})
	return cmd
}

func rmdirCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rmdir PATH",
		Short: "Remove an empty directory",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = s.withFS(func(ctx context.Context, fs *hdfs.FileSystem, args []string) error {
		info, err := fs.Stat(ctx, args[0])
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fserror.Argument("rmdir", "%s is not a directory", info.Name)
		}
		return fs.Delete(ctx, args[0], false)
	})
	return cmd
}

func mvCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mv SOURCE DEST",
		Short: "Move a file or directory",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = s.withFS(func(ctx context.Context, fs *hdfs.FileSystem, args []string) error {
		return fs.Rename(ctx, args[0], args[1])
	})
	return cmd
}

func existsCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exists PATH",
		Short: "Print whether a path exists",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = s.withFS(func(ctx context.Context, fs *hdfs.FileSystem, args []string) error {
		ok, err := fs.Exists(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(s.stdout, ok)
		return nil
	})
	return cmd
}

func chmodCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chmod PATH MODE",
		Short: "Change permission bits, given in octal",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = s.withFS(func(ctx context.Context, fs *hdfs.FileSystem, args []string) error {
		mode, err := strconv.ParseUint(args[1], 8, 32)
		if err != nil || mode > 0o1777 {
			return fserror.Argument("chmod", "invalid mode %q", args[1])
		}
		perm := os.FileMode(mode & 0o777)
		if mode&0o1000 != 0 {
			perm |= os.ModeSticky
		}
		return fs.Chmod(ctx, args[0], perm)
	})
	return cmd
}

func chownCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chown PATH OWNER[:GROUP] | chown PATH OWNER GROUP",
		Short: "Change owner and group",
		Args:  cobra.RangeArgs(2, 3),
	}
	cmd.RunE = s.withFS(func(ctx context.Context, fs *hdfs.FileSystem, args []string) error {
		owner, group, _ := strings.Cut(args[1], ":")
		if len(args) == 3 {
			group = args[2]
		}
		return fs.Chown(ctx, args[0], owner, group)
	})
	return cmd
}

func setReplicationCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-replication PATH N",
		Short: "Change the replication factor of a file",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = s.withFS(func(ctx context.Context, fs *hdfs.FileSystem, args []string) error {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fserror.Argument("setReplication", "invalid replication %q", args[1])
		}
		return fs.SetReplication(ctx, args[0], n)
	})
	return cmd
}

func blockLocationsCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get-block-locations PATH [OFFSET LENGTH]",
		Short: "Show which data nodes hold each block of a file",
		Args:  cobra.MatchAll(cobra.RangeArgs(1, 3), notExactly(2)),
	}
	cmd.RunE = s.withFS(func(ctx context.Context, fs *hdfs.FileSystem, args []string) error {
		var offset, length int64
		if len(args) == 3 {
			var err error
			if offset, err = parseSize("get-block-locations", args[1]); err != nil {
				return err
			}
			if length, err = parseSize("get-block-locations", args[2]); err != nil {
				return err
			}
		}
		locs, err := fs.GetBlockLocations(ctx, args[0], offset, length)
		if err != nil {
			return err
		}
		docs := make([]blockDoc, 0, len(locs))
		for _, l := range locs {
			docs = append(docs, blockDoc{Offset: l.Offset, Length: l.Length, Hosts: l.Hosts, Corrupt: l.Corrupt})
		}
		return printYAML(s.stdout, docs)
	})
	return cmd
}

func toLocalCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "to-local PATH LOCAL",
		Aliases: []string{"get"},
		Short:   "Copy a file to the local filesystem",
		Args:    cobra.ExactArgs(2),
	}
	cmd.RunE = s.withFS(func(ctx context.Context, fs *hdfs.FileSystem, args []string) error {
		_, err := fs.CopyToLocal(ctx, args[0], args[1])
		return err
	})
	return cmd
}

func toHDFSCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "to-hdfs LOCAL PATH",
		Aliases: []string{"put"},
		Short:   "Copy a local file into HDFS",
		Args:    cobra.ExactArgs(2),
	}
	cmd.RunE = s.withFS(func(ctx context.Context, fs *hdfs.FileSystem, args []string) error {
		_, err := fs.CopyFromLocal(ctx, args[0], args[1])
		return err
	})
	return cmd
}

func getMergeCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "getmerge DIR LOCAL",
		Short: "Concatenate the files of a directory into a local file",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = s.withFS(func(ctx context.Context, fs *hdfs.FileSystem, args []string) error {
		_, err := fs.GetMerge(ctx, args[0], args[1])
		return err
	})
	return cmd
}

func duCommand(s *session) *cobra.Command {
	var total, deep, human bool
	cmd := &cobra.Command{
		Use:   "du PATH",
		Short: "Show the size of each entry under a path",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().BoolVarP(&total, "total", "s", false, "Print a single total for PATH")
	cmd.Flags().BoolVarP(&deep, "deep", "d", false, "Descend into subdirectories")
	cmd.Flags().BoolVarP(&human, "human-readable", "H", false, "Print sizes in human readable form")
	cmd.RunE = s.withFS(func(ctx context.Context, fs *hdfs.FileSystem, args []string) error {
		usage, err := fs.DiskUsage(ctx, args[0], total, deep)
		if err != nil {
			return err
		}
		for _, p := range sortedKeys(usage) {
			fmt.Fprintf(s.stdout, "%s\t%s\n", formatSize(usage[p], human), p)
		}
		return nil
	})
	return cmd
}

func dfCommand(s *session) *cobra.Command {
	var human bool
	cmd := &cobra.Command{
		Use:   "df",
		Short: "Show the capacity of the cluster",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().BoolVarP(&human, "human-readable", "H", false, "Print sizes in human readable form")
	cmd.RunE = s.withFS(func(ctx context.Context, fs *hdfs.FileSystem, args []string) error {
		st, err := fs.FsStatus(ctx)
		if err != nil {
			return err
		}
		if human {
			fmt.Fprintf(s.stdout, "capacity: %s\nused: %s\nremaining: %s\n",
				humanize.IBytes(uint64(st.Capacity)), humanize.IBytes(uint64(st.Used)),
				humanize.IBytes(uint64(st.Remaining)))
			return nil
		}
		return printYAML(s.stdout, fsStatusDoc{
			Capacity:        st.Capacity,
			Used:            st.Used,
			Remaining:       st.Remaining,
			UnderReplicated: st.UnderReplicated,
			CorruptBlocks:   st.CorruptBlocks,
			MissingBlocks:   st.MissingBlocks,
		})
	})
	return cmd
}

func summaryCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary PATH",
		Short: "Show length, file count and quotas of a directory tree",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = s.withFS(func(ctx context.Context, fs *hdfs.FileSystem, args []string) error {
		cs, err := fs.ContentSummary(ctx, args[0])
		if err != nil {
			return err
		}
		return printYAML(s.stdout, summaryDoc{
			Length:         cs.Length,
			FileCount:      cs.FileCount,
			DirectoryCount: cs.DirectoryCount,
			Quota:          cs.Quota,
			SpaceConsumed:  cs.SpaceConsumed,
			SpaceQuota:     cs.SpaceQuota,
		})
	})
	return cmd
}

// peekCommand builds head or tail, which differ only in the end they read.
func peekCommand(s *session, name string) *cobra.Command {
	end := "first"
	if name == "tail" {
		end = "last"
	}
	cmd := &cobra.Command{
		Use:   name + " PATH [SIZE]",
		Short: fmt.Sprintf("Print the %s bytes of a file (default %d)", end, defaultPeekSize),
		Args:  cobra.RangeArgs(1, 2),
	}
	cmd.RunE = s.withFS(func(ctx context.Context, fs *hdfs.FileSystem, args []string) error {
		size := int64(defaultPeekSize)
		if len(args) == 2 {
			var err error
			if size, err = parseSize(name, args[1]); err != nil {
				return err
			}
		}
		peek := fs.Head
		if name == "tail" {
			peek = fs.Tail
		}
		data, err := peek(ctx, args[0], size)
		if err != nil {
			return err
		}
		_, err = s.stdout.Write(data)
		return err
	})
	return cmd
}

func touchCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "touch PATH",
		Short: "Create an empty file or update the times of an existing one",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = s.withFS(func(ctx context.Context, fs *hdfs.FileSystem, args []string) error {
		return fs.Touch(ctx, args[0])
	})
	return cmd
}

func globCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "glob PATTERN",
		Short: "List the paths matching a pattern",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = s.withFS(func(ctx context.Context, fs *hdfs.FileSystem, args []string) error {
		matches, err := fs.Glob(ctx, args[0])
		if err != nil {
			return err
		}
		for _, m := range matches {
			fmt.Fprintln(s.stdout, m)
		}
		return nil
	})
	return cmd
}

func initCommand(s *session) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with every default",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := s.configPath
			if path == "" {
				path = config.GetDefaultConfigPath()
			}
			if err := config.InitConfigToPath(path, force); err != nil {
				return err
			}
			fmt.Fprintf(s.stdout, "Configuration written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

func parseSize(op, s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		b, herr := humanize.ParseBytes(s)
		if herr != nil {
			return 0, fserror.Argument(op, "invalid size %q", s)
		}
		n = int64(b)
	}
	if n < 0 {
		return 0, fserror.Argument(op, "negative size %d", n)
	}
	return n, nil
}

func notExactly(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) == n {
			return fmt.Errorf("%s does not accept %d arguments", cmd.Name(), n)
		}
		return nil
	}
}
