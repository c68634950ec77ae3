package tenants

import "testing"

func TestLimitsForDefaultsToFree(t *testing.T) {
	r := NewRegistry()
	l := r.LimitsFor("unknown-tenant")
	if l != Free.Limits {
		t.Errorf("expected free limits, got %+v", l)
	}
}

func TestLimitsForBoundTier(t *testing.T) {
	r := NewRegistry()
	r.BindTenant("t-ent", TierEnterprise)
	if got := r.LimitsFor("t-ent"); got != Enterprise.Limits {
		t.Errorf("expected enterprise limits, got %+v", got)
	}
	if r.TierOf("t-ent") != TierEnterprise {
		t.Error("tier binding lost")
	}
}

func TestOverrideTakesPrecedence(t *testing.T) {
	r := NewRegistry()
	r.BindTenant("t1", TierPro)
	custom := Limits{PerSecond: 7, PerMinute: 70, PerHour: 700}
	r.SetOverride("t1", custom)
	if got := r.LimitsFor("t1"); got != custom {
		t.Errorf("override not applied: %+v", got)
	}
}

func TestReplaceTiers(t *testing.T) {
	r := NewRegistry()
	r.BindTenant("t1", TierFree)
	r.ReplaceTiers(map[TierID]Tier{
		TierFree: {ID: TierFree, Name: "Free", Limits: Limits{PerSecond: 1, PerMinute: 2, PerHour: 3}},
	})
	if got := r.LimitsFor("t1"); got.PerHour != 3 {
		t.Errorf("tier table swap not observed: %+v", got)
	}
}

func TestIsUnlimited(t *testing.T) {
	if !IsUnlimited(Unlimited.Limits.PerSecond) {
		t.Error("unlimited tier must report unlimited")
	}
	if IsUnlimited(Free.Limits.PerSecond) {
		t.Error("free tier is not unlimited")
	}
}
