package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	reflectschema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"draconia.gg/internal/sim/simerr"
)

const schemaBase = "https://draconia.gg/schema/protocol/"

// prototypes lists one zero value per message type. Schemas are reflected
// from these structs so the wire contract cannot drift from the Go types.
var (
	hostPrototypes = map[string]any{
		TypeBoot:    &BootMsg{},
		TypeStart:   &StartMsg{},
		TypeStop:    &StopMsg{},
		TypeSetMode: &SetModeMsg{},
		TypeOffline: &OfflineMsg{},
		TypeAbility: &AbilityMsg{},
	}
	simPrototypes = map[string]any{
		TypeReady:          &ReadyMsg{},
		TypeTick:           &TickMsg{},
		TypeBgCovered:      &BgCoveredMsg{},
		TypeLog:            &LogMsg{},
		TypeFatal:          &FatalMsg{},
		TypeIntegrityError: &IntegrityErrorMsg{},
	}
)

// SchemaJSON returns the reflected JSON Schema for message type t.
func SchemaJSON(t string) ([]byte, error) {
	proto, ok := hostPrototypes[t]
	if !ok {
		proto, ok = simPrototypes[t]
	}
	if !ok {
		return nil, fmt.Errorf("unknown message type %q", t)
	}
	r := &reflectschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	s := r.Reflect(proto)
	s.Title = t
	return json.MarshalIndent(s, "", "  ")
}

type validators struct {
	once sync.Once
	err  error
	byT  map[string]*jsonschema.Schema
}

var hostValidators, simValidators validators

func (v *validators) get(protos map[string]any) (map[string]*jsonschema.Schema, error) {
	v.once.Do(func() {
		c := jsonschema.NewCompiler()
		v.byT = map[string]*jsonschema.Schema{}
		for t := range protos {
			b, err := SchemaJSON(t)
			if err != nil {
				v.err = err
				return
			}
			if err := c.AddResource(schemaBase+t+".json", bytes.NewReader(b)); err != nil {
				v.err = fmt.Errorf("schema %s: %w", t, err)
				return
			}
		}
		for t := range protos {
			s, err := c.Compile(schemaBase + t + ".json")
			if err != nil {
				v.err = fmt.Errorf("compile %s: %w", t, err)
				return
			}
			v.byT[t] = s
		}
	})
	return v.byT, v.err
}

// validate checks raw structurally and returns its discriminator.
func validate(raw []byte, v *validators, protos map[string]any) (string, error) {
	const op = "protocol.decode"
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", simerr.Wrap(simerr.KindProtocol, op, err)
	}
	if _, ok := doc.(map[string]any); !ok {
		return "", simerr.Protocolf(op, "message is not an object")
	}
	base, err := DecodeBase(raw)
	if err != nil || base.T == "" {
		return "", simerr.Protocolf(op, "missing or invalid discriminator t")
	}
	t := base.T
	schemas, err := v.get(protos)
	if err != nil {
		return "", simerr.Wrap(simerr.KindDeterminism, op, err)
	}
	s, ok := schemas[t]
	if !ok {
		return t, simerr.Protocolf(op, "unknown message type %q", t)
	}
	if err := s.Validate(doc); err != nil {
		return t, simerr.Wrap(simerr.KindProtocol, op, fmt.Errorf("%s: %w", t, err))
	}
	return t, nil
}

// DecodeHost validates and decodes one host -> sim frame. Every failure is a
// protocol error.
func DecodeHost(raw []byte) (HostMsg, error) {
	t, err := validate(raw, &hostValidators, hostPrototypes)
	if err != nil {
		return nil, err
	}
	var m HostMsg
	switch t {
	case TypeBoot:
		var v BootMsg
		err = json.Unmarshal(raw, &v)
		m = v
	case TypeStart:
		var v StartMsg
		err = json.Unmarshal(raw, &v)
		m = v
	case TypeStop:
		var v StopMsg
		err = json.Unmarshal(raw, &v)
		m = v
	case TypeSetMode:
		var v SetModeMsg
		err = json.Unmarshal(raw, &v)
		m = v
	case TypeOffline:
		var v OfflineMsg
		err = json.Unmarshal(raw, &v)
		m = v
	case TypeAbility:
		var v AbilityMsg
		err = json.Unmarshal(raw, &v)
		m = v
	default:
		return nil, simerr.Protocolf("protocol.decode", "unknown message type %q", t)
	}
	if err != nil {
		return nil, simerr.Wrap(simerr.KindProtocol, "protocol.decode", err)
	}
	return m, nil
}

// DecodeSim validates and decodes one sim -> host frame (used by hosts and tests).
func DecodeSim(raw []byte) (SimMsg, error) {
	t, err := validate(raw, &simValidators, simPrototypes)
	if err != nil {
		return nil, err
	}
	var m SimMsg
	switch t {
	case TypeReady:
		var v ReadyMsg
		err = json.Unmarshal(raw, &v)
		m = v
	case TypeTick:
		var v TickMsg
		err = json.Unmarshal(raw, &v)
		m = v
	case TypeBgCovered:
		var v BgCoveredMsg
		err = json.Unmarshal(raw, &v)
		m = v
	case TypeLog:
		var v LogMsg
		err = json.Unmarshal(raw, &v)
		m = v
	case TypeFatal:
		var v FatalMsg
		err = json.Unmarshal(raw, &v)
		m = v
	case TypeIntegrityError:
		var v IntegrityErrorMsg
		err = json.Unmarshal(raw, &v)
		m = v
	default:
		return nil, simerr.Protocolf("protocol.decode", "unknown message type %q", t)
	}
	if err != nil {
		return nil, simerr.Wrap(simerr.KindProtocol, "protocol.decode", err)
	}
	return m, nil
}

// Encode marshals m with its discriminator filled in.
func Encode(m SimMsg) ([]byte, error) {
	return json.Marshal(withT(m))
}

func EncodeHost(m HostMsg) ([]byte, error) {
	return json.Marshal(withT(m))
}

func withT(m any) any {
	switch v := m.(type) {
	case ReadyMsg:
		v.T = TypeReady
		return v
	case TickMsg:
		v.T = TypeTick
		return v
	case BgCoveredMsg:
		v.T = TypeBgCovered
		return v
	case LogMsg:
		v.T = TypeLog
		return v
	case FatalMsg:
		v.T = TypeFatal
		return v
	case IntegrityErrorMsg:
		v.T = TypeIntegrityError
		return v
	case BootMsg:
		v.T = TypeBoot
		return v
	case StartMsg:
		v.T = TypeStart
		return v
	case StopMsg:
		v.T = TypeStop
		return v
	case SetModeMsg:
		v.T = TypeSetMode
		return v
	case OfflineMsg:
		v.T = TypeOffline
		return v
	case AbilityMsg:
		v.T = TypeAbility
		return v
	}
	return m
}
