package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"
	"sync"
)

var reKV = regexp.MustCompile(`([a-zA-Z_0-9]+)=([^\s,;]+)`)

// Parser turns one feed line into Fields. It understands a JSON object,
// key=value pairs, or CSV (positional patient_id,hr,ox or with a header
// line naming the columns). A Parser remembers the CSV header it has seen,
// so each line-oriented source owns its own.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

// ParseLine returns nil fields for blank lines and CSV headers.
func (p *Parser) ParseLine(line string) (*Fields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if strings.HasPrefix(trim, "{") {
		fields, err := ParseJSONBytes([]byte(trim))
		if err != nil {
			return nil, err
		}
		fields.Raw = line
		return fields, nil
	}
	if strings.Contains(trim, "=") {
		fields := parseKV(trim)
		fields.Raw = line
		return fields, nil
	}
	fields, err := p.csv.Parse(trim)
	if err != nil || fields == nil {
		return nil, err
	}
	fields.Raw = line
	return fields, nil
}

func parseKV(line string) *Fields {
	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		kv[strings.ToLower(match[1])] = match[2]
	}
	return fieldsFromMap(kv)
}

type CSVParser struct {
	mu     sync.Mutex
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(line string) (*Fields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	if p.header != nil {
		kv := make(map[string]string, len(p.header))
		for i, name := range p.header {
			if i >= len(record) {
				break
			}
			kv[name] = record[i]
		}
		return fieldsFromMap(kv), nil
	}
	fields := &Fields{}
	if len(record) >= 1 {
		fields.PatientID = record[0]
	}
	if len(record) >= 2 {
		fields.HeartRate = record[1]
	}
	if len(record) >= 3 {
		fields.OxygenLevel = record[2]
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		v = strings.ToLower(strings.TrimSpace(v))
		for _, keys := range [][]string{patientKeys, heartKeys, oxygenKeys} {
			for _, k := range keys {
				if v == k {
					return true
				}
			}
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}
