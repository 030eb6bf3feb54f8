package mint

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	transactionVersion = 2
	addressLength      = 32
)

var (
	errEmptyRecipient = errors.New("recipientAddress is required")
	errEmptyImageURI  = errors.New("imageUri is required")
)

// UnsignedTransaction is the serializable description handed to the wallet.
// The wallet fills in Sender; gas and object references are its concern.
type UnsignedTransaction struct {
	Version  int       `json:"version"`
	Sender   string    `json:"sender,omitempty"`
	Inputs   []Input   `json:"inputs"`
	Commands []Command `json:"commands"`
}

// Input is a pure argument value, already encoded for the ledger.
type Input struct {
	Kind  string `json:"kind"`
	Type  string `json:"type"`
	Bytes []byte `json:"bytes"`
}

// Command is one step of the transaction. Only move calls are produced.
type Command struct {
	MoveCall *MoveCall `json:"moveCall,omitempty"`
}

// MoveCall invokes a contract entry point.
type MoveCall struct {
	Package       string     `json:"package"`
	Module        string     `json:"module"`
	Function      string     `json:"function"`
	TypeArguments []string   `json:"typeArguments"`
	Arguments     []Argument `json:"arguments"`
}

// Argument references an entry of Inputs.
type Argument struct {
	Input int `json:"input"`
}

// Serialize returns the canonical encoding of tx.
func (tx UnsignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// WithSender returns a copy of tx with the sender set.
func (tx UnsignedTransaction) WithSender(sender string) UnsignedTransaction {
	out := tx
	out.Sender = sender
	out.Inputs = append([]Input(nil), tx.Inputs...)
	out.Commands = append([]Command(nil), tx.Commands...)
	return out
}

// Build assembles the mint call for req against target. It touches no
// network or state.
func Build(req Request, target ContractTarget) (UnsignedTransaction, error) {
	recipient := strings.TrimSpace(req.RecipientAddress)
	imageURI := strings.TrimSpace(req.ImageURI)
	if recipient == "" {
		return UnsignedTransaction{}, newError(ReasonInvalidRequest, errEmptyRecipient)
	}
	if imageURI == "" {
		return UnsignedTransaction{}, newError(ReasonInvalidRequest, errEmptyImageURI)
	}
	if err := target.Validate(); err != nil {
		return UnsignedTransaction{}, newError(ReasonInvalidRequest, err)
	}

	_, addr, err := NormalizeAddress(recipient)
	if err != nil {
		return UnsignedTransaction{}, newError(ReasonInvalidRequest, err)
	}

	return UnsignedTransaction{
		Version: transactionVersion,
		Inputs: []Input{
			{Kind: "pure", Type: "address", Bytes: addr},
			{Kind: "pure", Type: "string", Bytes: encodeString(imageURI)},
		},
		Commands: []Command{{
			MoveCall: &MoveCall{
				Package:       strings.TrimSpace(target.Package),
				Module:        strings.TrimSpace(target.Module),
				Function:      strings.TrimSpace(target.Function),
				TypeArguments: []string{},
				Arguments:     []Argument{{Input: 0}, {Input: 1}},
			},
		}},
	}, nil
}

// NormalizeAddress validates a ledger address (optional 0x, 1-64 hex digits)
// and returns its canonical form and 32-byte value.
func NormalizeAddress(s string) (string, []byte, error) {
	s = strings.TrimSpace(s)
	h := s
	if len(h) >= 2 && (h[:2] == "0x" || h[:2] == "0X") {
		h = h[2:]
	}
	if h == "" || len(h) > 2*addressLength {
		return "", nil, fmt.Errorf("invalid address %q", s)
	}
	for _, c := range h {
		if !isHexDigit(c) {
			return "", nil, fmt.Errorf("invalid address %q", s)
		}
	}
	raw := common.LeftPadBytes(common.FromHex(h), addressLength)
	return "0x" + hex.EncodeToString(raw), raw, nil
}

func isHexDigit(c rune) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// encodeString writes a ULEB128 length prefix followed by the UTF-8 bytes.
func encodeString(s string) []byte {
	out := appendULEB128(nil, uint64(len(s)))
	return append(out, s...)
}

func appendULEB128(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			dst = append(dst, b|0x80)
			continue
		}
		return append(dst, b)
	}
}
