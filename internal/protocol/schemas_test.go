package protocol_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"draconia.gg/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		b, err := protocol.SchemaJSON(name)
		if err != nil {
			t.Fatalf("reflect %s: %v", name, err)
		}
		url := "mem://" + name + ".json"
		c := jsonschema.NewCompiler()
		if err := c.AddResource(url, bytes.NewReader(b)); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
		s, err := c.Compile(url)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, raw string, ok bool) {
		t.Helper()
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			t.Fatalf("sample: %v", err)
		}
		err := s.Validate(v)
		if ok && err != nil {
			t.Fatalf("validate %s: %v", raw, err)
		}
		if !ok && err == nil {
			t.Fatalf("expected %s to be rejected", raw)
		}
	}

	boot := compile(protocol.TypeBoot)
	validate(boot, `{"t":"boot","version":1,"seed":42}`, true)
	validate(boot, `{"t":"boot","version":1,"seed":42,"profile":"default"}`, true)
	validate(boot, `{"t":"boot","seed":42}`, false)
	validate(boot, `{"t":"start","version":1,"seed":42}`, false)

	start := compile(protocol.TypeStart)
	validate(start, `{"t":"start","mode":"fg"}`, true)
	validate(start, `{"t":"start","mode":"sideways"}`, false)

	validate(compile(protocol.TypeStop), `{"t":"stop"}`, true)
	validate(compile(protocol.TypeOffline), `{"t":"offline","elapsedMs":3600000}`, true)
	validate(compile(protocol.TypeOffline), `{"t":"offline","elapsedMs":-1}`, false)
	validate(compile(protocol.TypeAbility), `{"t":"ability","id":"breath"}`, true)
	validate(compile(protocol.TypeAbility), `{"t":"ability","id":""}`, false)

	tick := compile(protocol.TypeTick)
	validate(tick, `{"t":"tick","now":16.67,"dtMs":16.67,"mode":"fg","stats":{"enemies":0,"proj":0}}`, true)
	validate(tick, `{"t":"tick","now":16.67,"dtMs":16.67,"mode":"fg"}`, false)

	validate(compile(protocol.TypeReady), `{"t":"ready","version":1}`, true)
	validate(compile(protocol.TypeBgCovered), `{"t":"bgCovered","coveredMs":500}`, true)
	validate(compile(protocol.TypeLog), `{"t":"log","level":"warn","msg":"cooldown"}`, true)
	validate(compile(protocol.TypeLog), `{"t":"log","level":"debug","msg":"x"}`, false)
	validate(compile(protocol.TypeFatal), `{"t":"fatal","reason":"E_PROTOCOL: bad"}`, true)
	validate(compile(protocol.TypeIntegrityError), `{"t":"integrityError","reason":"E_INTEGRITY: mismatch"}`, true)
}
