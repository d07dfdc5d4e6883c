package v3

import (
	"errors"
	"sync/atomic"

	"github.com/simpledaemons/simple-snmpd/internal/ber"
	"github.com/simpledaemons/simple-snmpd/internal/pdu"
	"github.com/simpledaemons/simple-snmpd/internal/usm"
)

// Processor drives the v3 message processing model (§4.8): USM
// authentication/privacy on the way in, USM authentication/encryption on
// the way out, and REPORT synthesis on any USM failure.
type Processor struct {
	USM *usm.Manager

	// salt is consulted per outgoing encrypted message; callers share one
	// Processor per listening socket so the counter stays monotonic for
	// the life of the engine boot.
	salt usm.Salt
}

// NewProcessor constructs a v3 message processor bound to a USM manager.
func NewProcessor(m *usm.Manager) *Processor {
	return &Processor{USM: m}
}

// Incoming is the result of processing one inbound v3 message: either a
// plaintext PDU ready for the dispatcher, or a REPORT to send back
// immediately without reaching the dispatcher at all.
type Incoming struct {
	User         *usm.User
	ContextName  string
	PDU          pdu.PDU
	Report       *Message // non-nil when processing failed and a REPORT must be sent
}

// ProcessIncoming implements RFC 3414 §3.2's processIncomingMsg: engine
// discovery, user and security-level lookup, time-window check, digest
// verification, and decryption, in that order, short-circuiting to a
// REPORT on the first failure.
func (p *Processor) ProcessIncoming(raw []byte) (*Incoming, error) {
	msg, err := DecodeMessage(raw)
	if err != nil {
		return nil, err
	}

	if f := p.USM.CheckEngineID(msg.Security.AuthEngineID); f != usm.FailureNone {
		return &Incoming{Report: p.buildReport(msg, f)}, nil
	}

	level := usm.LevelNoAuthNoPriv
	if msg.HasAuth() {
		level = usm.LevelAuthNoPriv
	}
	if msg.HasPriv() {
		level = usm.LevelAuthPriv
	}

	user, ok := p.USM.User(msg.Security.UserName)
	if !ok {
		p.USM.Stats.UnknownUserNames.Add(1)
		return &Incoming{Report: p.buildReport(msg, usm.FailureUnknownUserName)}, nil
	}
	if level > user.Level {
		p.USM.Stats.UnsupportedSecLevels.Add(1)
		return &Incoming{Report: p.buildReport(msg, usm.FailureUnsupportedSecLevel)}, nil
	}

	if msg.HasAuth() {
		if f := p.USM.CheckTimeWindow(msg.Security.AuthEngineBoots, msg.Security.AuthEngineTime); f != usm.FailureNone {
			return &Incoming{Report: p.buildReport(msg, f)}, nil
		}
		digestLen := len(msg.Security.AuthParams)
		zeroed := ZeroedAuthParams(msg, digestLen)
		zeroedBytes, err := EncodeMessage(zeroed)
		if err != nil {
			return nil, err
		}
		ok, verr := usm.VerifyDigest(zeroedBytes, msg.Security.AuthParams, user.AuthKey, user.AuthProtocol)
		if verr != nil || !ok {
			p.USM.Stats.WrongDigests.Add(1)
			return &Incoming{Report: p.buildReport(msg, usm.FailureWrongDigest)}, nil
		}
	}

	if msg.HasPriv() {
		plaintext, derr := decrypt(msg, user)
		if derr != nil {
			p.USM.Stats.DecryptionErrors.Add(1)
			return &Incoming{Report: p.buildReport(msg, usm.FailureDecryptionError)}, nil
		}
		scoped, serr := ber.ReadTLV(plaintext)
		if serr != nil || scoped.Tag != ber.TagSequence {
			p.USM.Stats.DecryptionErrors.Add(1)
			return &Incoming{Report: p.buildReport(msg, usm.FailureDecryptionError)}, nil
		}
		if err := decodeScopedPDU(scoped.Content, msg); err != nil {
			p.USM.Stats.DecryptionErrors.Add(1)
			return &Incoming{Report: p.buildReport(msg, usm.FailureDecryptionError)}, nil
		}
	}

	user.Touch()
	return &Incoming{User: user, ContextName: msg.ContextName, PDU: msg.PDU}, nil
}

func decrypt(msg *Message, user *usm.User) ([]byte, error) {
	switch user.PrivProtocol {
	case usm.PrivDES:
		if len(msg.Security.PrivParams) != 8 {
			return nil, errors.New("v3: DES privacy parameters must be 8 bytes")
		}
		var salt [8]byte
		copy(salt[:], msg.Security.PrivParams)
		iv := usm.DESIV(user.PrivKey, salt)
		return usm.DecryptDES(msg.EncryptedPDU, user.PrivKey[:8], iv)
	case usm.PrivAES128, usm.PrivAES192, usm.PrivAES256, usm.PrivAES192A, usm.PrivAES256A:
		if len(msg.Security.PrivParams) != 8 {
			return nil, errors.New("v3: AES privacy parameters must be 8 bytes")
		}
		var salt [8]byte
		copy(salt[:], msg.Security.PrivParams)
		iv := usm.AESIV(msg.Security.AuthEngineBoots, msg.Security.AuthEngineTime, salt)
		return usm.DecryptAESCFB(msg.EncryptedPDU, user.PrivKey, iv)
	default:
		return nil, errors.New("v3: no privacy protocol configured for this user")
	}
}

func encrypt(plaintext []byte, user *usm.User, boots, engTime uint32, salt [8]byte) ([]byte, error) {
	switch user.PrivProtocol {
	case usm.PrivDES:
		iv := usm.DESIV(user.PrivKey, salt)
		return usm.EncryptDES(plaintext, user.PrivKey[:8], iv)
	case usm.PrivAES128, usm.PrivAES192, usm.PrivAES256, usm.PrivAES192A, usm.PrivAES256A:
		iv := usm.AESIV(boots, engTime, salt)
		return usm.EncryptAESCFB(plaintext, user.PrivKey, iv)
	default:
		return nil, errors.New("v3: no privacy protocol configured for this user")
	}
}

// buildReport synthesizes the REPORT the §4.5 failure taxonomy calls for:
// same msgID, no privacy/auth requested on the REPORT itself (the local
// engine always knows its own identity), reportable=0, one varbind naming
// the failure OID with a Counter32 value of 0 (the associated usmStats
// counter snapshot; a fuller implementation would read it live).
func (p *Processor) buildReport(msg *Message, f usm.Failure) *Message {
	oid, ok := ReportOID(f)
	if !ok {
		oid, _ = ReportOID(usm.FailureUnknownEngineID)
	}
	report := &Message{
		MsgID:      msg.MsgID,
		MsgMaxSize: msg.MsgMaxSize,
		MsgFlags:   0,
		Security: SecurityParams{
			AuthEngineID:    p.USM.EngineID(),
			AuthEngineBoots: p.USM.EngineBoots(),
			AuthEngineTime:  p.USM.EngineTime(),
		},
		ContextEngineID: p.USM.EngineID(),
		ContextName:     msg.ContextName,
		PDU: pdu.PDU{
			Type:      pdu.TypeReport,
			RequestID: msg.PDU.RequestID,
			VarBinds: []pdu.VarBind{
				{OID: oid, Value: pdu.Counter32Value(0)},
			},
		},
	}
	return report
}

// GenerateResponse builds and, if the security level requires it,
// authenticates/encrypts an outgoing scoped PDU addressed to user,
// mirroring makeMessage's two-pass authenticate-after-encrypt order.
func (p *Processor) GenerateResponse(user *usm.User, contextEngineID []byte, contextName string, body pdu.PDU, reportable bool) ([]byte, error) {
	var flags byte
	if reportable {
		flags |= FlagReportable
	}
	if user.Level != usm.LevelNoAuthNoPriv {
		flags |= FlagAuth
	}
	if user.Level == usm.LevelAuthPriv {
		flags |= FlagPriv
	}

	msg := &Message{
		MsgID:      randomMsgID(),
		MsgMaxSize: 1500,
		MsgFlags:   flags,
		Security: SecurityParams{
			AuthEngineID:    p.USM.EngineID(),
			AuthEngineBoots: p.USM.EngineBoots(),
			AuthEngineTime:  p.USM.EngineTime(),
			UserName:        user.Name,
		},
		ContextEngineID: contextEngineID,
		ContextName:     contextName,
		PDU:             body,
	}

	if msg.HasAuth() {
		msg.Security.AuthParams = make([]byte, authDigestLen(user))
	}

	if msg.HasPriv() {
		plain, err := encodeScopedPDU(msg)
		if err != nil {
			return nil, err
		}
		salt := p.nextSalt()
		ciphertext, err := encrypt(plain, user, msg.Security.AuthEngineBoots, msg.Security.AuthEngineTime, salt)
		if err != nil {
			return nil, err
		}
		msg.EncryptedPDU = ciphertext
		msg.Security.PrivParams = salt[:]
	}

	if !msg.HasAuth() {
		return EncodeMessage(msg)
	}

	unsigned, err := EncodeMessage(msg)
	if err != nil {
		return nil, err
	}
	digest, err := usm.Digest(unsigned, user.AuthKey, user.AuthProtocol)
	if err != nil {
		return nil, err
	}
	return PatchAuthParams(msg, digest)
}

func (p *Processor) nextSalt() [8]byte { return p.salt.Next() }

func authDigestLen(user *usm.User) int {
	switch user.AuthProtocol {
	case usm.AuthSHA256:
		return 24
	case usm.AuthSHA384:
		return 32
	case usm.AuthSHA512:
		return 48
	case usm.AuthSHA224:
		return 16
	default:
		return 12
	}
}

var msgIDCounter atomic.Uint32

func randomMsgID() int32 {
	return int32(msgIDCounter.Add(1))
}
