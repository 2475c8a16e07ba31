package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"reflect"
	"strings"

	"ledger-mirror/config"
	"ledger-mirror/internal/core/domain"
	"ledger-mirror/internal/core/ports"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Ledger contract surface.
const (
	fnTotalTipped = "totalTipped"
	fnTipCount    = "tipCount"
	fnOwner       = "owner"
	fnGetTip      = "getTip"
	fnTip         = "tip"
	fnWithdraw    = "withdraw"

	evNewTip   = "NewTip"
	evWithdraw = "Withdraw"
)

var requiredMethods = []string{fnTotalTipped, fnTipCount, fnOwner, fnGetTip, fnTip, fnWithdraw}

// Event arguments that, when present, carry the entry's sequence directly.
var sequenceArgNames = []string{"index", "id", "tipid", "sequence"}

var ErrEmptyDescriptor = errors.New("interface descriptor has no entries")

// Contract binds the ledger's address to its interface descriptor.
type Contract struct {
	Address common.Address
	abi     abi.ABI
}

// LoadContract reads the interface descriptor named by cfg. The descriptor is
// either a bare ABI array or a build artifact with an "abi" field.
func LoadContract(cfg config.LedgerConfig) (*Contract, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrNotConfigured, err)
	}
	if !common.IsHexAddress(cfg.Address) {
		return nil, fmt.Errorf("%w: invalid ledger address %q", ports.ErrNotConfigured, cfg.Address)
	}
	raw, err := os.ReadFile(cfg.DescriptorPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading descriptor: %w", ports.ErrNotConfigured, err)
	}
	return NewContract(common.HexToAddress(cfg.Address), raw)
}

// NewContract parses descriptor and checks that it exposes the ledger surface.
func NewContract(address common.Address, descriptor []byte) (*Contract, error) {
	descriptor = bytes.TrimSpace(descriptor)
	if len(descriptor) > 0 && descriptor[0] == '{' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(descriptor, &artifact); err != nil {
			return nil, fmt.Errorf("%w: parsing artifact: %w", ports.ErrNotConfigured, err)
		}
		descriptor = artifact.ABI
	}

	parsed, err := abi.JSON(bytes.NewReader(descriptor))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing descriptor: %w", ports.ErrNotConfigured, err)
	}
	if len(parsed.Methods) == 0 && len(parsed.Events) == 0 {
		return nil, fmt.Errorf("%w: %w", ports.ErrNotConfigured, ErrEmptyDescriptor)
	}
	for _, name := range requiredMethods {
		if _, ok := parsed.Methods[name]; !ok {
			return nil, fmt.Errorf("%w: descriptor lacks %s()", ports.ErrNotConfigured, name)
		}
	}
	if _, ok := parsed.Events[evNewTip]; !ok {
		return nil, fmt.Errorf("%w: descriptor lacks event %s", ports.ErrNotConfigured, evNewTip)
	}

	return &Contract{Address: address, abi: parsed}, nil
}

// PackCall encodes a logical write as call data.
func (c *Contract) PackCall(call ports.CallDescriptor) ([]byte, error) {
	switch call.Kind {
	case domain.TxKindAppend:
		return c.abi.Pack(fnTip, call.Text)
	case domain.TxKindWithdraw:
		return c.abi.Pack(fnWithdraw)
	default:
		return nil, fmt.Errorf("unknown call kind %q", call.Kind)
	}
}

func (c *Contract) pack(method string, args ...interface{}) ([]byte, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}
	return data, nil
}

func (c *Contract) unpackUint(method string, data []byte) (*uint256.Int, error) {
	out, err := c.abi.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unpacking %s: expected 1 output, got %d", method, len(out))
	}
	return toUint256(out[0])
}

func (c *Contract) unpackAddress(method string, data []byte) (common.Address, error) {
	out, err := c.abi.Unpack(method, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpacking %s: %w", method, err)
	}
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("unpacking %s: expected 1 output, got %d", method, len(out))
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unpacking %s: unexpected type %T", method, out[0])
	}
	return addr, nil
}

// unpackTip decodes getTip's result. The entry comes back either as one tuple
// or as four separate outputs.
func (c *Contract) unpackTip(data []byte) (domain.LedgerEntry, error) {
	method := c.abi.Methods[fnGetTip]
	out, err := method.Outputs.Unpack(data)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("unpacking %s: %w", fnGetTip, err)
	}

	fields := make(map[string]interface{})
	if len(out) == 1 && reflect.ValueOf(out[0]).Kind() == reflect.Struct {
		v := reflect.ValueOf(out[0])
		for i := 0; i < v.NumField(); i++ {
			fields[strings.ToLower(v.Type().Field(i).Name)] = v.Field(i).Interface()
		}
	} else {
		for i, arg := range method.Outputs {
			fields[strings.ToLower(arg.Name)] = out[i]
		}
	}
	return entryFromFields(fields)
}

func entryFromFields(fields map[string]interface{}) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry

	sender, ok := fields["from"].(common.Address)
	if !ok {
		return e, fmt.Errorf("entry field from: unexpected type %T", fields["from"])
	}
	amount, err := toUint256(fields["amount"])
	if err != nil {
		return e, fmt.Errorf("entry field amount: %w", err)
	}
	ts, err := toUint256(fields["timestamp"])
	if err != nil {
		return e, fmt.Errorf("entry field timestamp: %w", err)
	}
	text, ok := fields["message"].(string)
	if !ok {
		return e, fmt.Errorf("entry field message: unexpected type %T", fields["message"])
	}

	e.Sender = sender
	e.Amount = amount
	e.CreatedAt = ts.Uint64()
	e.Text = text
	return e, nil
}

// decodedLog is one contract event.
type decodedLog struct {
	Event    string
	Entry    domain.LedgerEntry // NewTip only
	Sequence *uint64            // NewTip only, when the event carries it
	To       common.Address     // Withdraw only
	Amount   *uint256.Int       // Withdraw only
}

func (c *Contract) eventTopics() []common.Hash {
	topics := []common.Hash{c.abi.Events[evNewTip].ID}
	if ev, ok := c.abi.Events[evWithdraw]; ok {
		topics = append(topics, ev.ID)
	}
	return topics
}

func (c *Contract) newTipTopic() common.Hash {
	return c.abi.Events[evNewTip].ID
}

func (c *Contract) decodeLog(log types.Log) (*decodedLog, error) {
	if len(log.Topics) == 0 {
		return nil, errors.New("log has no topics")
	}
	ev, err := c.abi.EventByID(log.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("unknown event: %w", err)
	}

	fields := make(map[string]interface{})
	if err := c.abi.UnpackIntoMap(fields, ev.Name, log.Data); err != nil {
		return nil, fmt.Errorf("unpacking %s data: %w", ev.Name, err)
	}
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, log.Topics[1:]); err != nil {
		return nil, fmt.Errorf("parsing %s topics: %w", ev.Name, err)
	}
	lowered := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		lowered[strings.ToLower(k)] = v
	}

	switch ev.Name {
	case evNewTip:
		entry, err := entryFromFields(lowered)
		if err != nil {
			return nil, err
		}
		out := &decodedLog{Event: ev.Name, Entry: entry}
		for _, name := range sequenceArgNames {
			if v, ok := lowered[name]; ok {
				seq, err := toUint256(v)
				if err != nil {
					return nil, fmt.Errorf("entry field %s: %w", name, err)
				}
				s := seq.Uint64()
				out.Sequence = &s
				break
			}
		}
		return out, nil
	case evWithdraw:
		to, _ := lowered["to"].(common.Address)
		amount, err := toUint256(lowered["amount"])
		if err != nil {
			return nil, fmt.Errorf("withdraw field amount: %w", err)
		}
		return &decodedLog{Event: ev.Name, To: to, Amount: amount}, nil
	default:
		return &decodedLog{Event: ev.Name}, nil
	}
}

func toUint256(v interface{}) (*uint256.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil || n.Sign() < 0 {
			return nil, fmt.Errorf("invalid unsigned value %v", n)
		}
		out, overflow := uint256.FromBig(n)
		if overflow {
			return nil, errors.New("value overflows 256 bits")
		}
		return out, nil
	case uint8:
		return uint256.NewInt(uint64(n)), nil
	case uint16:
		return uint256.NewInt(uint64(n)), nil
	case uint32:
		return uint256.NewInt(uint64(n)), nil
	case uint64:
		return uint256.NewInt(n), nil
	default:
		return nil, fmt.Errorf("unexpected type %T", v)
	}
}
