package updates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func progressOf(p *ProgressParser, name string) ServiceProgress {
	for _, svc := range p.Snapshot() {
		if svc.ServiceName == name {
			return svc
		}
	}
	return ServiceProgress{}
}

func TestParseLineServicePulled(t *testing.T) {
	p := NewProgressParser([]string{"web", "db"})

	changed := p.ParseLine(" ✔ web Pulled  2.1s")
	assert.True(t, changed)

	web := progressOf(p, "web")
	assert.Equal(t, StatusPulled, web.Status)
	assert.Equal(t, 100, web.ProgressPercent)
	assert.Equal(t, StatusWaiting, progressOf(p, "db").Status)
	assert.Equal(t, 50, p.Overall())
}

func TestParseLinePullingAndWaiting(t *testing.T) {
	p := NewProgressParser([]string{"web"})

	assert.True(t, p.ParseLine(" ⠿ web Pulling "))
	assert.Equal(t, StatusPulling, progressOf(p, "web").Status)

	// A late Waiting line must not downgrade the service.
	assert.False(t, p.ParseLine(" ⠿ web Waiting "))
	assert.Equal(t, StatusPulling, progressOf(p, "web").Status)
}

func TestParseLineLayerPercentages(t *testing.T) {
	p := NewProgressParser([]string{"web"})
	p.ParseLine(" ⠿ web Pulling ")

	assert.True(t, p.ParseLine("   a1b2c3 Downloading [=====>    ]  50%"))
	web := progressOf(p, "web")
	assert.Equal(t, StatusDownloading, web.Status)
	assert.Equal(t, 35, web.ProgressPercent) // 50 scaled by 0.7

	assert.True(t, p.ParseLine("   a1b2c3 Extracting [========> ]  50%"))
	web = progressOf(p, "web")
	assert.Equal(t, StatusExtracting, web.Status)
	assert.Equal(t, 84, web.ProgressPercent) // 70 + 50*0.29

	// Layer percentages never reach 100; only the Pulled line does.
	assert.True(t, p.ParseLine("   a1b2c3 Extracting [==========] 100%"))
	assert.Equal(t, 99, progressOf(p, "web").ProgressPercent)
}

func TestParseLineIgnoresLayerLinesAfterPulled(t *testing.T) {
	p := NewProgressParser([]string{"web"})
	p.ParseLine(" ✔ web Pulled ")

	assert.False(t, p.ParseLine("   a1b2c3 Downloading [==>       ]  20%"))
	web := progressOf(p, "web")
	assert.Equal(t, StatusPulled, web.Status)
	assert.Equal(t, 100, web.ProgressPercent)
}

func TestParseLineUnknownServiceIgnored(t *testing.T) {
	p := NewProgressParser([]string{"web"})
	assert.False(t, p.ParseLine(" ✔ ghost Pulled "))
	assert.Equal(t, StatusWaiting, progressOf(p, "web").Status)
}

func TestParseLineErrorMarksUnfinishedServices(t *testing.T) {
	p := NewProgressParser([]string{"web", "db"})
	p.ParseLine(" ✔ web Pulled ")

	assert.True(t, p.ParseLine("Error response from daemon: manifest unknown"))
	assert.Equal(t, StatusPulled, progressOf(p, "web").Status)
	db := progressOf(p, "db")
	assert.Equal(t, StatusError, db.Status)
	assert.NotEmpty(t, db.Message)
}

func TestErroredServiceNeverAdvances(t *testing.T) {
	p := NewProgressParser([]string{"db"})
	p.ParseLine("pull access denied for db image")
	require.Equal(t, StatusError, progressOf(p, "db").Status)

	assert.False(t, p.ParseLine(" ✔ db Pulled "))
	assert.Equal(t, StatusError, progressOf(p, "db").Status)
}

func TestMarkAllSkipsErrored(t *testing.T) {
	p := NewProgressParser([]string{"web", "db"})
	p.MarkPendingErrored("boom")
	require.Equal(t, StatusError, progressOf(p, "web").Status)

	p.MarkAll(StatusCompleted, 100)
	assert.Equal(t, StatusError, progressOf(p, "web").Status)
}

func TestMarkAllErroredOverridesEverything(t *testing.T) {
	p := NewProgressParser([]string{"web"})
	p.ParseLine(" ✔ web Pulled ")

	p.MarkAllErrored("recreate failed")
	web := progressOf(p, "web")
	assert.Equal(t, StatusError, web.Status)
	assert.Equal(t, "recreate failed", web.Message)
}

func TestSnapshotStableOrder(t *testing.T) {
	p := NewProgressParser([]string{"zeta", "alpha", "mid"})
	names := make([]string, 0, 3)
	for _, svc := range p.Snapshot() {
		names = append(names, svc.ServiceName)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}
