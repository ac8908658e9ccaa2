package drugsfda

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"
)

// ErrMalformedDocument means the payload is not a Drugs@FDA results envelope
// at all. Unlike a single bad application this aborts the run.
var ErrMalformedDocument = errors.New("drugsfda: malformed document")

// MalformedRecordError describes one results entry that failed validation.
// It is isolated: the entry is skipped and parsing continues.
type MalformedRecordError struct {
	Index             int
	ApplicationNumber string
	Reasons           []string
}

func (e *MalformedRecordError) Error() string {
	id := e.ApplicationNumber
	if id == "" {
		id = "<missing application_number>"
	}
	return fmt.Sprintf("malformed application at index %d (%s): %s", e.Index, id, strings.Join(e.Reasons, "; "))
}

// Logger receives one warning per skipped application.
type Logger interface {
	Warnf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Warnf(string, ...interface{}) {}

// applicationSchema only pins down what the flattener depends on. Unknown
// properties are allowed since openFDA adds fields over time.
const applicationSchema = `{
  "type": "object",
  "required": ["application_number"],
  "properties": {
    "application_number": {"type": "string", "pattern": "\\S"},
    "sponsor_name": {"type": ["string", "null"]},
    "openfda": {"type": ["object", "null"]},
    "submissions": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "submission_type": {"type": ["string", "null"]},
          "submission_number": {"type": ["string", "null"]},
          "submission_status": {"type": ["string", "null"]},
          "submission_status_date": {"type": ["string", "null"]}
        }
      }
    },
    "products": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "product_number": {"type": ["string", "null"]},
          "brand_name": {"type": ["string", "null"]},
          "dosage_form": {"type": ["string", "null"]},
          "route": {"type": ["string", "null"]},
          "marketing_status": {"type": ["string", "null"]},
          "reference_drug": {"type": ["string", "null"]},
          "active_ingredients": {
            "type": ["array", "null"],
            "items": {
              "type": "object",
              "properties": {
                "name": {"type": ["string", "null"]},
                "strength": {"type": ["string", "null"]}
              }
            }
          }
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func applicationValidator() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(applicationSchema))
	})
	return schema, schemaErr
}

// Parse validates body and decodes every well-formed application in document
// order. body may be the usual {"meta":...,"results":[...]} envelope or a bare
// array of applications. A nil log discards warnings.
func Parse(body []byte, log Logger) (*Document, error) {
	if log == nil {
		log = nopLogger{}
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: body is not valid JSON", ErrMalformedDocument)
	}

	root := gjson.ParseBytes(body)
	results := root
	if !root.IsArray() {
		results = root.Get("results")
		if !results.IsArray() {
			return nil, fmt.Errorf("%w: no results array", ErrMalformedDocument)
		}
	}

	validator, err := applicationValidator()
	if err != nil {
		return nil, fmt.Errorf("compile application schema: %w", err)
	}

	doc := &Document{
		LastUpdated: root.Get("meta.last_updated").String(),
	}

	idx := 0
	results.ForEach(func(_, value gjson.Result) bool {
		app, merr := parseApplication(validator, idx, value)
		if merr != nil {
			log.Warnf("Skipping %v", merr)
			doc.Malformed = append(doc.Malformed, merr)
		} else {
			doc.Applications = append(doc.Applications, app)
		}
		idx++
		return true
	})

	doc.Total = int(root.Get("meta.results.total").Int())
	if doc.Total == 0 {
		doc.Total = idx
	}
	return doc, nil
}

func parseApplication(validator *gojsonschema.Schema, idx int, value gjson.Result) (RawApplication, *MalformedRecordError) {
	malformed := &MalformedRecordError{
		Index:             idx,
		ApplicationNumber: strings.TrimSpace(value.Get("application_number").String()),
	}

	res, err := validator.Validate(gojsonschema.NewStringLoader(value.Raw))
	if err != nil {
		malformed.Reasons = []string{err.Error()}
		return RawApplication{}, malformed
	}
	if !res.Valid() {
		for _, desc := range res.Errors() {
			malformed.Reasons = append(malformed.Reasons, desc.String())
		}
		return RawApplication{}, malformed
	}

	var app RawApplication
	if err := json.Unmarshal([]byte(value.Raw), &app); err != nil {
		malformed.Reasons = []string{err.Error()}
		return RawApplication{}, malformed
	}
	app.ApplicationNumber = strings.TrimSpace(app.ApplicationNumber)
	if openfda := value.Get("openfda"); openfda.IsObject() {
		app.RawOpenFDA = json.RawMessage(openfda.Raw)
	}
	return app, nil
}
