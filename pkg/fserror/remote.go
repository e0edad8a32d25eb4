package fserror

import "strings"

// remoteKinds maps Hadoop exception class names to error kinds.
var remoteKinds = map[string]Kind{
	"java.io.FileNotFoundException":                                    KindNotFound,
	"org.apache.hadoop.security.AccessControlException":                KindPermission,
	"org.apache.hadoop.security.authorize.AuthorizationException":      KindPermission,
	"org.apache.hadoop.fs.FileAlreadyExistsException":                  KindExists,
	"org.apache.hadoop.ipc.RpcNoSuchMethodException":                   KindNotSupported,
	"org.apache.hadoop.ipc.RpcNoSuchProtocolException":                 KindNotSupported,
	"java.lang.UnsupportedOperationException":                          KindNotSupported,
	"java.lang.IllegalArgumentException":                               KindArgument,
	"org.apache.hadoop.HadoopIllegalArgumentException":                 KindArgument,
	"org.apache.hadoop.fs.InvalidPathException":                        KindArgument,
	"org.apache.hadoop.ipc.StandbyException":                           KindConnection,
	"org.apache.hadoop.ipc.RetriableException":                         KindConnection,
	"org.apache.hadoop.security.token.SecretManager$InvalidToken":      KindConnection,
	"org.apache.hadoop.hdfs.protocol.QuotaExceededException":           KindIO,
	"org.apache.hadoop.fs.ParentNotDirectoryException":                 KindIO,
	"org.apache.hadoop.fs.PathIsNotEmptyDirectoryException":            KindIO,
	"org.apache.hadoop.hdfs.server.namenode.SafeModeException":         KindIO,
	"org.apache.hadoop.hdfs.protocol.AlreadyBeingCreatedException":     KindIO,
	"org.apache.hadoop.hdfs.server.namenode.LeaseExpiredException":     KindIO,
	"org.apache.hadoop.hdfs.protocol.NSQuotaExceededException":         KindIO,
	"org.apache.hadoop.hdfs.protocol.DSQuotaExceededException":         KindIO,
	"org.apache.hadoop.hdfs.server.namenode.NotReplicatedYetException": KindIO,
}

// RemoteException is the cause attached to errors reported by the name node.
type RemoteException struct {
	// Class is the fully qualified Java exception class name
	Class string

	// Message is the full remote error message, which usually contains a stack trace
	Message string
}

func (e *RemoteException) Error() string {
	return e.Class + ": " + firstLine(e.Message)
}

// FromRemote maps a name-node exception to an *Error. The first line of the remote
// message becomes the error message; the full text stays on the RemoteException.
func FromRemote(op, path, class, message string) *Error {
	kind, ok := remoteKinds[class]
	if !ok {
		kind = KindIO
	}
	return &Error{
		Kind:    kind,
		Op:      op,
		Path:    path,
		Message: firstLine(message),
		Err:     &RemoteException{Class: class, Message: message},
	}
}

// IsRemote reports whether err carries a RemoteException of the given class.
func IsRemote(err error, class string) bool {
	for err != nil {
		if re, ok := err.(*RemoteException); ok {
			return re.Class == class
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
