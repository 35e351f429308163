package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"marlin/internal/pkg/jsonutil"
)

// Models answer with an outer envelope whose decision payload is itself a
// JSON-encoded string; some providers also wrap the whole thing in a code
// fence or attach refusal metadata. Validate with a schema first so the
// operator sees "confidence must be <= 1", not a decoder offset.
const decisionSchemaText = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": {"type": "string", "enum": ["OPEN_POSITION", "CLOSE_POSITION", "HOLD_POSITION", "DO_NOTHING"]},
    "side": {"type": "string", "enum": ["LONG", "SHORT"]},
    "entry_price": {"type": "number"},
    "stop_loss_price": {"type": "number"},
    "take_profit_price": {"type": "number"},
    "quantity": {"type": "number"},
    "leverage": {"type": "integer"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reasoning": {"type": "string"},
    "strategy_update": {"type": "object"}
  },
  "additionalProperties": false
}`

var decisionSchema = jsonschema.MustCompileString("decision.schema.json", decisionSchemaText)

// ParseResponse turns the raw model output into a Decision. Steps: extract
// the outer JSON object, surface an explicit refusal, unwrap the nested
// decision string, schema-validate, then strict-decode.
func ParseResponse(raw string) (Decision, error) {
	outer, ok := jsonutil.ExtractJSON(raw)
	if !ok {
		return Decision{}, fmt.Errorf("no JSON object in oracle response")
	}
	if gjson.Get(outer, "blocked").Bool() {
		reason := strings.TrimSpace(gjson.Get(outer, "block_reason").String())
		if reason == "" {
			reason = "no reason given"
		}
		return Decision{}, fmt.Errorf("oracle refused to decide: %s", reason)
	}

	inner := outer
	if dec := gjson.Get(outer, "decision"); dec.Exists() {
		if dec.Type == gjson.String {
			// 内层还可能再带一层围栏，照样剥掉。
			unwrapped, ok := jsonutil.ExtractJSON(dec.String())
			if !ok {
				return Decision{}, fmt.Errorf("decision field is not a JSON document")
			}
			inner = unwrapped
		} else {
			inner = dec.Raw
		}
	}

	var generic any
	if err := json.Unmarshal([]byte(inner), &generic); err != nil {
		return Decision{}, fmt.Errorf("decision is not valid JSON: %w", err)
	}
	if err := decisionSchema.Validate(generic); err != nil {
		return Decision{}, fmt.Errorf("decision failed schema validation: %w", err)
	}

	var d Decision
	decoder := json.NewDecoder(bytes.NewReader([]byte(inner)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&d); err != nil {
		return Decision{}, fmt.Errorf("decoding decision: %w", err)
	}
	return d, nil
}

// parseStrategyUpdate decodes the raw strategy_update suggestion. Decoding is
// deliberately permissive: unknown fields (including configuration-owned ones
// like sizing mode) are dropped, never an error.
func parseStrategyUpdate(raw json.RawMessage) (*StrategyUpdate, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var upd StrategyUpdate
	if err := json.Unmarshal(raw, &upd); err != nil {
		return nil, fmt.Errorf("decoding strategy update: %w", err)
	}
	return &upd, nil
}
