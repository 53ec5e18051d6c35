package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeyValue(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("2026-02-23 12:34:56 patient_id=P7 hr=88 spo2=93")
	require.NoError(t, err)
	require.NotNil(t, fields)
	assert.Equal(t, "P7", fields.PatientID)
	assert.Equal(t, "88", fields.HeartRate)
	assert.Equal(t, "93", fields.OxygenLevel)
}

func TestParseCSVPositionalAndHeader(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("P1, 72, 97")
	require.NoError(t, err)
	assert.Equal(t, &Fields{PatientID: "P1", HeartRate: "72", OxygenLevel: "97", Raw: "P1, 72, 97"}, fields)

	fields, err = p.ParseLine("oxygen_level,patient_id,heart_rate")
	require.NoError(t, err)
	assert.Nil(t, fields, "header line yields no reading")

	fields, err = p.ParseLine("91,P2,130")
	require.NoError(t, err)
	assert.Equal(t, "P2", fields.PatientID)
	assert.Equal(t, "130", fields.HeartRate)
	assert.Equal(t, "91", fields.OxygenLevel)
}

func TestParseJSON(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine(`{"patient_id":"P1","heart_rate":130,"oxygen_level":97.4,"note":null}`)
	require.NoError(t, err)
	assert.Equal(t, "P1", fields.PatientID)
	assert.Equal(t, "130", fields.HeartRate)
	assert.Equal(t, "97.4", fields.OxygenLevel)

	fields, err = p.ParseLine(`{"patient":42,"HR":"61","SpO2":99}`)
	require.NoError(t, err)
	assert.Equal(t, "42", fields.PatientID)
	assert.Equal(t, "61", fields.HeartRate)

	_, err = p.ParseLine(`{"patient_id":`)
	assert.Error(t, err)
}

func TestParseJSONLargeNumericID(t *testing.T) {
	fields, err := NewParser().ParseLine(`{"patient_id":1234567,"heart_rate":72,"oxygen_level":97}`)
	require.NoError(t, err)
	assert.Equal(t, "1234567", fields.PatientID)

	reading, err := Normalize(*fields)
	require.NoError(t, err)
	assert.Equal(t, "1234567", reading.PatientID)

	decoded := ParseJSONMap(map[string]interface{}{"patient_id": float64(98765432), "hr": 61.0, "ox": 99.0})
	assert.Equal(t, "98765432", decoded.PatientID)
	assert.Equal(t, "61", decoded.HeartRate)
}

func TestParseBlank(t *testing.T) {
	fields, err := NewParser().ParseLine("   \n")
	require.NoError(t, err)
	assert.Nil(t, fields)
}

func TestNormalize(t *testing.T) {
	r, err := Normalize(Fields{PatientID: " P1 ", HeartRate: "72", OxygenLevel: "96.6"})
	require.NoError(t, err)
	assert.Equal(t, "P1", r.PatientID)
	assert.Equal(t, 72, r.HeartRate)
	assert.Equal(t, 97, r.OxygenLevel)

	r, err = Normalize(Fields{PatientID: "P1", HeartRate: "0", OxygenLevel: "0"})
	require.NoError(t, err)
	assert.Equal(t, 0, r.HeartRate)

	_, err = Normalize(Fields{HeartRate: "72", OxygenLevel: "97"})
	assert.ErrorIs(t, err, ErrMissingPatient)

	_, err = Normalize(Fields{PatientID: "P1", HeartRate: "301", OxygenLevel: "97"})
	assert.ErrorIs(t, err, ErrVitalOutOfRange)

	_, err = Normalize(Fields{PatientID: "P1", HeartRate: "72", OxygenLevel: "101"})
	assert.ErrorIs(t, err, ErrVitalOutOfRange)

	_, err = Normalize(Fields{PatientID: "P1", HeartRate: "72"})
	assert.ErrorIs(t, err, ErrMissingVital)

	_, err = Normalize(Fields{PatientID: "P1", HeartRate: "fast", OxygenLevel: "97"})
	assert.Error(t, err)
}
