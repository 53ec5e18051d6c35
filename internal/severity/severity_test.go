package severity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"vitalwatch/internal/model"
)

func TestClassifyHeartRateOutOfBandIsHigh(t *testing.T) {
	for _, hr := range []int{0, 20, 49, 121, 150, 220} {
		got := Classify(hr, 98)
		assert.Equal(t, model.SeverityHigh, got.Severity, "heart_rate=%d", hr)
		assert.Contains(t, got.Issue, IssueHeartRate)
	}
}

func TestClassifyLowOxygenIsHigh(t *testing.T) {
	for _, ox := range []int{0, 70, 85, 89} {
		got := Classify(75, ox)
		assert.Equal(t, model.SeverityHigh, got.Severity, "oxygen_level=%d", ox)
		assert.Equal(t, IssueLowOxygen, got.Issue)
	}
}

func TestClassifyOxygenWarningBandIsMedium(t *testing.T) {
	for ox := 90; ox <= 94; ox++ {
		got := Classify(80, ox)
		assert.Equal(t, model.SeverityMedium, got.Severity, "oxygen_level=%d", ox)
		assert.Equal(t, IssueOxygenLevel, got.Issue)
	}
}

func TestClassifyNormal(t *testing.T) {
	for _, tc := range [][2]int{{50, 95}, {72, 98}, {120, 100}} {
		got := Classify(tc[0], tc[1])
		assert.Equal(t, model.SeverityNone, got.Severity)
		assert.Empty(t, got.Issue)
		assert.False(t, got.Alerting())
	}
}

func TestClassifyCombinesIssues(t *testing.T) {
	got := Classify(130, 85)
	assert.Equal(t, model.SeverityHigh, got.Severity)
	assert.Equal(t, "Heart Rate, Low Oxygen", got.Issue)

	// medium band never downgrades a high heart-rate finding
	got = Classify(45, 92)
	assert.Equal(t, model.SeverityHigh, got.Severity)
	assert.Equal(t, "Heart Rate, Oxygen Level", got.Issue)
}

func TestCriticalIgnoresMissingVitals(t *testing.T) {
	p := DefaultAlertPolicy
	assert.False(t, p.Critical(nil, nil))
	assert.False(t, p.Critical(nil, model.IntPtr(95)))
	assert.True(t, p.Critical(model.IntPtr(130), nil))
	assert.True(t, p.Critical(nil, model.IntPtr(89)))
	assert.False(t, p.Critical(model.IntPtr(110), model.IntPtr(92)))
}

func TestDisplayBandsDifferFromAlertBands(t *testing.T) {
	d := DefaultDisplayPolicy
	hr := model.IntPtr(110)
	assert.Equal(t, DisplayCritical, d.HeartRate(hr))
	assert.False(t, Classify(*hr, 98).Alerting())

	assert.Equal(t, DisplayWarning, d.HeartRate(model.IntPtr(55)))
	assert.Equal(t, DisplayNormal, d.HeartRate(model.IntPtr(60)))
	assert.Equal(t, DisplayNormal, d.HeartRate(model.IntPtr(100)))
	assert.Equal(t, DisplayCritical, d.HeartRate(model.IntPtr(101)))

	assert.Equal(t, DisplayCritical, d.OxygenLevel(model.IntPtr(89)))
	assert.Equal(t, DisplayWarning, d.OxygenLevel(model.IntPtr(90)))
	assert.Equal(t, DisplayWarning, d.OxygenLevel(model.IntPtr(94)))
	assert.Equal(t, DisplayNormal, d.OxygenLevel(model.IntPtr(95)))
}

func TestDisplayMissingVitals(t *testing.T) {
	d := DefaultDisplayPolicy
	assert.Equal(t, DisplayUnknown, d.HeartRate(nil))
	assert.Equal(t, DisplayUnknown, d.OxygenLevel(model.IntPtr(0)))
	assert.Equal(t, Placeholder, FormatHeartRate(nil))
	assert.Equal(t, Placeholder, FormatOxygenLevel(nil))
	assert.Equal(t, "72 bpm", FormatHeartRate(model.IntPtr(72)))
	assert.Equal(t, "97%", FormatOxygenLevel(model.IntPtr(97)))
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, AtLeast(model.SeverityHigh, model.SeverityMedium))
	assert.False(t, AtLeast(model.SeverityLow, model.SeverityMedium))
	assert.Equal(t, model.SeverityHigh, ParseSeverity(" HIGH "))
	assert.Equal(t, model.SeverityNone, ParseSeverity("bogus"))
}
