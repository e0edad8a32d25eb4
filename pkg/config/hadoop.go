package config

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// hadoopConfFiles are read in order; later files override earlier ones.
var hadoopConfFiles = []string{"core-site.xml", "hdfs-site.xml"}

type xmlConfiguration struct {
	Properties []struct {
		Name  string `xml:"name"`
		Value string `xml:"value"`
	} `xml:"property"`
}

// DiscoverHadoopConfDir returns the directory holding the Hadoop XML
// configuration, or "" when none of the usual places applies.
//
// Lookup order:
//  1. the directory of $LIBHDFS3_CONF
//  2. $HADOOP_CONF_DIR
//  3. $HADOOP_INSTALL/hadoop/conf
//  4. /etc/hadoop/conf, if it contains hdfs-site.xml
func DiscoverHadoopConfDir() string {
	if f := os.Getenv("LIBHDFS3_CONF"); f != "" {
		return filepath.Dir(f)
	}
	if d := os.Getenv("HADOOP_CONF_DIR"); d != "" {
		return d
	}
	if d := os.Getenv("HADOOP_INSTALL"); d != "" {
		return filepath.Join(d, "hadoop", "conf")
	}
	if _, err := os.Stat("/etc/hadoop/conf/hdfs-site.xml"); err == nil {
		return "/etc/hadoop/conf"
	}
	return ""
}

// ReadHadoopConf reads a single *-site.xml file into a name/value map.
func ReadHadoopConf(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc xmlConfiguration
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make(map[string]string, len(doc.Properties))
	for _, p := range doc.Properties {
		out[strings.TrimSpace(p.Name)] = strings.TrimSpace(p.Value)
	}
	return out, nil
}

// FromHadoopConf builds options from core-site.xml and hdfs-site.xml in dir.
//
// Every property is copied to Extra. The recognized ones are also mapped to
// fields: fs.defaultFS (or dfs.namenode.rpc-address, or the first name node of
// the first nameservice) to Host and Port, dfs.replication, dfs.blocksize and
// hadoop.security.authentication. Missing files are skipped; ok is false when
// neither file exists.
func FromHadoopConf(dir string) (opts *Options, ok bool, err error) {
	props := make(map[string]string)
	for _, name := range hadoopConfFiles {
		m, err := ReadHadoopConf(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		ok = true
		for k, v := range m {
			props[k] = v
		}
	}

	opts = &Options{Extra: props}
	if !ok {
		return opts, false, nil
	}

	if addr := nameNodeAddress(props); addr != "" {
		host, port := splitAddress(addr)
		opts.Host = host
		opts.Port = port
	}

	if v, found := props["dfs.replication"]; found {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, true, fmt.Errorf("dfs.replication: %w", err)
		}
		opts.Replication = n
	}

	for _, key := range []string{"dfs.blocksize", "dfs.block.size"} {
		if v, found := props[key]; found {
			n, err := ParseHadoopSize(v)
			if err != nil {
				return nil, true, fmt.Errorf("%s: %w", key, err)
			}
			opts.BlockSize = n
			break
		}
	}

	if strings.EqualFold(props["hadoop.security.authentication"], "kerberos") {
		opts.TicketCache = defaultTicketCache()
	}
	return opts, true, nil
}

func nameNodeAddress(props map[string]string) string {
	if ns := firstField(props["dfs.nameservices"]); ns != "" {
		if nn := firstField(props["dfs.ha.namenodes."+ns]); nn != "" {
			if a := props["dfs.namenode.rpc-address."+ns+"."+nn]; a != "" {
				return a
			}
		}
		if a := props["dfs.namenode.rpc-address."+ns]; a != "" {
			return a
		}
	}
	if a := props["dfs.namenode.rpc-address"]; a != "" {
		return a
	}
	if fsURL := props["fs.defaultFS"]; strings.HasPrefix(fsURL, "hdfs://") {
		if u, err := url.Parse(fsURL); err == nil {
			return u.Host
		}
	}
	return ""
}

func splitAddress(addr string) (string, int) {
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, _ := strconv.Atoi(p)
	return host, port
}

func firstField(s string) string {
	first, _, _ := strings.Cut(s, ",")
	return strings.TrimSpace(first)
}

func defaultTicketCache() string {
	if c := os.Getenv("KRB5CCNAME"); c != "" {
		return strings.TrimPrefix(c, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

// ParseHadoopSize parses a size with an optional binary suffix as Hadoop
// writes them ("134217728", "128m", "1g").
func ParseHadoopSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	shift := 0
	switch s[len(s)-1] {
	case 'k':
		shift = 10
	case 'm':
		shift = 20
	case 'g':
		shift = 30
	case 't':
		shift = 40
	case 'p':
		shift = 50
	case 'e':
		shift = 60
	}
	if shift > 0 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 || (shift > 0 && n > (1<<(63-shift))-1) {
		return 0, fmt.Errorf("size %s out of range", s)
	}
	return n << shift, nil
}
