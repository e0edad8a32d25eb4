// Package minicluster runs an HDFS name node and a set of data nodes inside
// the test process. Both speak the real wire protocols (Hadoop IPC with the
// ClientProtocol methods used by the client, and data transfer protocol v28),
// so client packages are tested end to end over loopback TCP.
//
// The namespace is kept in memory; block replicas are stored in an in-memory
// badger database shared by all data nodes. Fault injection covers stopped
// data nodes, corrupted replicas, data nodes refusing writes, dropped name
// node connections and delayed file completion.
//
// Usage:
//
//	c := minicluster.MustStart(t, minicluster.Config{DataNodes: 3})
//	fs := hdfs.New(c.Options())
package minicluster
