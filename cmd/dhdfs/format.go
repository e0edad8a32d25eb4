package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/dittohdfs/pkg/metadata"
)

type pathDoc struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	Size        int64  `yaml:"size"`
	Owner       string `yaml:"owner"`
	Group       string `yaml:"group"`
	Permission  string `yaml:"permission"`
	Replication int    `yaml:"replication,omitempty"`
	BlockSize   int64  `yaml:"block_size,omitempty"`
	Modified    string `yaml:"modified"`
	Accessed    string `yaml:"accessed,omitempty"`
}

func newPathDoc(info *metadata.PathInfo) pathDoc {
	doc := pathDoc{
		Name:        info.Name,
		Kind:        info.Kind.String(),
		Size:        info.Size,
		Owner:       info.Owner,
		Group:       info.Group,
		Permission:  "0" + strconv.FormatUint(uint64(info.Permission.Perm()), 8),
		Replication: info.Replication,
		BlockSize:   info.BlockSize,
		Modified:    info.ModTime.UTC().Format(time.RFC3339),
	}
	if !info.AccessTime.IsZero() {
		doc.Accessed = info.AccessTime.UTC().Format(time.RFC3339)
	}
	return doc
}

type blockDoc struct {
	Offset  int64    `yaml:"offset"`
	Length  int64    `yaml:"length"`
	Hosts   []string `yaml:"hosts"`
	Corrupt bool     `yaml:"corrupt,omitempty"`
}

type fsStatusDoc struct {
	Capacity        int64 `yaml:"capacity"`
	Used            int64 `yaml:"used"`
	Remaining       int64 `yaml:"remaining"`
	UnderReplicated int64 `yaml:"under_replicated"`
	CorruptBlocks   int64 `yaml:"corrupt_blocks"`
	MissingBlocks   int64 `yaml:"missing_blocks"`
}

type summaryDoc struct {
	Length         int64 `yaml:"length"`
	FileCount      int64 `yaml:"file_count"`
	DirectoryCount int64 `yaml:"directory_count"`
	Quota          int64 `yaml:"quota"`
	SpaceConsumed  int64 `yaml:"space_consumed"`
	SpaceQuota     int64 `yaml:"space_quota"`
}

func printYAML(w io.Writer, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to render output: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func formatSize(n int64, human bool) string {
	if human && n >= 0 {
		return humanize.IBytes(uint64(n))
	}
	return strconv.FormatInt(n, 10)
}

func sortedKeys(m map[string]int64) []string {
	return slices.Sorted(maps.Keys(m))
}
