package stats

import (
	"testing"
	"time"

	"github.com/triqapp/smsgateway/internal/models"
)

func TestRecordAttemptCounters(t *testing.T) {
	c := NewCollector()
	c.RecordAttempt("simulation", models.MessageTypeOTP, true, 20)
	c.RecordAttempt("simulation", models.MessageTypeOTP, false, 0)
	c.RecordAttempt("twilio", models.MessageTypePayment, true, 35)

	snap := c.Snapshot(nil, nil)
	if snap.Global.Sent != 3 || snap.Global.Succeeded != 2 || snap.Global.Failed != 1 {
		t.Errorf("global counters = %+v", snap.Global)
	}
	if snap.Global.Cost != 55 {
		t.Errorf("global cost = %d, want 55", snap.Global.Cost)
	}
	sim := snap.ByProvider["simulation"]
	if sim.Sent != 2 || sim.Succeeded != 1 || sim.Failed != 1 || sim.Cost != 20 {
		t.Errorf("simulation counters = %+v", sim)
	}
	otp := snap.ByType[models.MessageTypeOTP]
	if otp.Sent != 2 || otp.Succeeded != 1 {
		t.Errorf("otp counters = %+v", otp)
	}
	if want := 2.0 / 3.0; snap.SuccessRate != want {
		t.Errorf("success rate = %f, want %f", snap.SuccessRate, want)
	}
}

func TestSuccessRateDefaultsForUntestedProvider(t *testing.T) {
	c := NewCollector()
	if rate := c.SuccessRate("orange"); rate != 0.5 {
		t.Errorf("untested provider rate = %f, want 0.5", rate)
	}
	c.RecordAttempt("orange", models.MessageTypeGeneric, false, 0)
	if rate := c.SuccessRate("orange"); rate != 0 {
		t.Errorf("failing provider rate = %f, want 0", rate)
	}
}

func TestSnapshotRangeFiltering(t *testing.T) {
	c := NewCollector()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	c.RecordAttempt("iam", models.MessageTypeGeneric, true, 25)
	now = now.Add(2 * time.Hour)
	c.RecordAttempt("iam", models.MessageTypeGeneric, false, 0)

	start := time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)
	snap := c.Snapshot(&start, nil)
	if snap.Global.Sent != 1 || snap.Global.Failed != 1 {
		t.Errorf("ranged counters = %+v, want only the second attempt", snap.Global)
	}

	end := time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)
	snap = c.Snapshot(nil, &end)
	if snap.Global.Sent != 1 || snap.Global.Succeeded != 1 {
		t.Errorf("ranged counters = %+v, want only the first attempt", snap.Global)
	}
}

func TestCountersAreMonotonic(t *testing.T) {
	c := NewCollector()
	var lastSent int64
	for i := 0; i < 50; i++ {
		c.RecordAttempt("simulation", models.MessageTypeGeneric, i%3 == 0, 20)
		snap := c.Snapshot(nil, nil)
		if snap.Global.Sent < lastSent {
			t.Fatalf("sent counter decreased: %d -> %d", lastSent, snap.Global.Sent)
		}
		lastSent = snap.Global.Sent
	}
	if lastSent != 50 {
		t.Errorf("sent = %d, want 50", lastSent)
	}
}
