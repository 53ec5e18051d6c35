package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

var (
	patientKeys = []string{"patient_id", "patientid", "patient", "id", "device_id"}
	heartKeys   = []string{"heart_rate", "heartrate", "hr", "heart", "bpm", "pulse"}
	oxygenKeys  = []string{"oxygen_level", "oxygenlevel", "ox", "spo2", "oxygen", "o2"}
)

func ParseJSONBytes(data []byte) (*Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

func ParseJSONMap(obj map[string]interface{}) *Fields {
	kv := make(map[string]string, len(obj))
	for key, val := range obj {
		if val == nil {
			continue
		}
		kv[strings.ToLower(key)] = jsonScalar(val)
	}
	return fieldsFromMap(kv)
}

// jsonScalar renders numbers in plain decimal so numeric ids survive
// whatever their magnitude.
func jsonScalar(val interface{}) string {
	switch v := val.(type) {
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fmt.Sprint(val)
}

func fieldsFromMap(kv map[string]string) *Fields {
	return &Fields{
		PatientID:   firstNonEmpty(kv, patientKeys...),
		HeartRate:   firstNonEmpty(kv, heartKeys...),
		OxygenLevel: firstNonEmpty(kv, oxygenKeys...),
	}
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}
