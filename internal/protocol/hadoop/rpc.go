package hadoop

// RPC kinds (RpcKindProto)
const (
	RpcKindBuiltin        int32 = 0
	RpcKindWritable       int32 = 1
	RpcKindProtocolBuffer int32 = 2
)

// RPC operations (RpcRequestHeaderProto.OperationProto)
const (
	RpcFinalPacket        int32 = 0
	RpcContinuationPacket int32 = 1
	RpcCloseConnection    int32 = 2
)

// RpcStatus is RpcResponseHeaderProto.RpcStatusProto.
type RpcStatus int32

const (
	RpcStatusSuccess RpcStatus = 0
	RpcStatusError   RpcStatus = 1
	RpcStatusFatal   RpcStatus = 2
)

func (s RpcStatus) String() string {
	switch s {
	case RpcStatusSuccess:
		return "SUCCESS"
	case RpcStatusError:
		return "ERROR"
	case RpcStatusFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Reserved call ids.
const (
	ConnectionContextCallID int32 = -3
	PingCallID              int32 = -4
	SaslCallID              int32 = -33
)

// RpcRequestHeader precedes every request frame (RpcRequestHeaderProto).
type RpcRequestHeader struct {
	RpcKind    int32
	RpcOp      int32
	CallID     int32
	ClientID   []byte
	RetryCount int32
}

func (m *RpcRequestHeader) Marshal() []byte {
	var e encoder
	e.int32(1, m.RpcKind)
	e.int32(2, m.RpcOp)
	e.sint32(3, m.CallID)
	e.bytes(4, m.ClientID)
	e.sint32(5, m.RetryCount)
	return e.buf
}

func (m *RpcRequestHeader) Unmarshal(b []byte) error {
	m.RetryCount = -1
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.RpcKind = f.int32()
		case 2:
			m.RpcOp = f.int32()
		case 3:
			m.CallID = f.sint32()
		case 4:
			m.ClientID = f.copyBytes()
		case 5:
			m.RetryCount = f.sint32()
		}
		return nil
	})
}

// RpcResponseHeader precedes every response frame (RpcResponseHeaderProto).
//
// The call id is declared uint32 upstream; negative reserved ids travel as their
// two's complement and are converted back here.
type RpcResponseHeader struct {
	CallID              int32
	Status              RpcStatus
	ServerIpcVersionNum uint32
	ExceptionClassName  string
	ErrorMsg            string
	ErrorDetail         int32
	ClientID            []byte
	RetryCount          int32
}

func (m *RpcResponseHeader) Marshal() []byte {
	var e encoder
	e.uint32(1, uint32(m.CallID))
	e.int32(2, int32(m.Status))
	e.optUint32(3, m.ServerIpcVersionNum)
	e.optString(4, m.ExceptionClassName)
	e.optString(5, m.ErrorMsg)
	if m.Status != RpcStatusSuccess {
		e.int32(6, m.ErrorDetail)
	}
	if len(m.ClientID) > 0 {
		e.bytes(7, m.ClientID)
	}
	e.sint32(8, m.RetryCount)
	return e.buf
}

func (m *RpcResponseHeader) Unmarshal(b []byte) error {
	m.RetryCount = -1
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.CallID = int32(f.uint32())
		case 2:
			m.Status = RpcStatus(f.int32())
		case 3:
			m.ServerIpcVersionNum = f.uint32()
		case 4:
			m.ExceptionClassName = f.string()
		case 5:
			m.ErrorMsg = f.string()
		case 6:
			m.ErrorDetail = f.int32()
		case 7:
			m.ClientID = f.copyBytes()
		case 8:
			m.RetryCount = f.sint32()
		}
		return nil
	})
}

// IpcConnectionContext is sent once after the connection preamble and the
// optional SASL exchange (IpcConnectionContextProto).
type IpcConnectionContext struct {
	EffectiveUser string
	RealUser      string
	Protocol      string
}

func (m *IpcConnectionContext) Marshal() []byte {
	var user encoder
	user.optString(1, m.EffectiveUser)
	user.optString(2, m.RealUser)

	var e encoder
	e.bytes(2, user.buf)
	e.optString(3, m.Protocol)
	return e.buf
}

func (m *IpcConnectionContext) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 2:
			return walk(f.bytes, func(u field) error {
				switch u.num {
				case 1:
					m.EffectiveUser = u.string()
				case 2:
					m.RealUser = u.string()
				}
				return nil
			})
		case 3:
			m.Protocol = f.string()
		}
		return nil
	})
}

// RequestHeader names the method of a protobuf RPC (RequestHeaderProto).
type RequestHeader struct {
	MethodName                 string
	DeclaringClassProtocolName string
	ClientProtocolVersion      uint64
}

func (m *RequestHeader) Marshal() []byte {
	var e encoder
	e.string(1, m.MethodName)
	e.string(2, m.DeclaringClassProtocolName)
	e.uint64(3, m.ClientProtocolVersion)
	return e.buf
}

func (m *RequestHeader) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.MethodName = f.string()
		case 2:
			m.DeclaringClassProtocolName = f.string()
		case 3:
			m.ClientProtocolVersion = f.uint64()
		}
		return nil
	})
}

// SaslState is RpcSaslProto.SaslState.
type SaslState int32

const (
	SaslSuccess   SaslState = 0
	SaslNegotiate SaslState = 1
	SaslInitiate  SaslState = 2
	SaslChallenge SaslState = 3
	SaslResponse  SaslState = 4
	SaslWrap      SaslState = 5
)

func (s SaslState) String() string {
	switch s {
	case SaslSuccess:
		return "SUCCESS"
	case SaslNegotiate:
		return "NEGOTIATE"
	case SaslInitiate:
		return "INITIATE"
	case SaslChallenge:
		return "CHALLENGE"
	case SaslResponse:
		return "RESPONSE"
	case SaslWrap:
		return "WRAP"
	default:
		return "UNKNOWN"
	}
}

// SaslAuth is one mechanism offered by the server (RpcSaslProto.SaslAuth).
type SaslAuth struct {
	Method    string
	Mechanism string
	Protocol  string
	ServerID  string
	Challenge []byte
}

func (m *SaslAuth) Marshal() []byte {
	var e encoder
	e.string(1, m.Method)
	e.string(2, m.Mechanism)
	e.optString(3, m.Protocol)
	e.optString(4, m.ServerID)
	if m.Challenge != nil {
		e.bytes(5, m.Challenge)
	}
	return e.buf
}

func (m *SaslAuth) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Method = f.string()
		case 2:
			m.Mechanism = f.string()
		case 3:
			m.Protocol = f.string()
		case 4:
			m.ServerID = f.string()
		case 5:
			m.Challenge = f.copyBytes()
		}
		return nil
	})
}

// RpcSasl carries one step of the SASL exchange (RpcSaslProto).
type RpcSasl struct {
	Version uint32
	State   SaslState
	Token   []byte
	Auths   []*SaslAuth
}

func (m *RpcSasl) Marshal() []byte {
	var e encoder
	e.optUint32(1, m.Version)
	e.int32(2, int32(m.State))
	if m.Token != nil {
		e.bytes(3, m.Token)
	}
	for _, a := range m.Auths {
		e.message(4, a)
	}
	return e.buf
}

func (m *RpcSasl) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Version = f.uint32()
		case 2:
			m.State = SaslState(f.int32())
		case 3:
			m.Token = f.copyBytes()
		case 4:
			a := &SaslAuth{}
			if err := a.Unmarshal(f.bytes); err != nil {
				return err
			}
			m.Auths = append(m.Auths, a)
		}
		return nil
	})
}
