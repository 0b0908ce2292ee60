package command

import "testing"

func TestCheckAllowsOrdinaryCommandUnderBasicControl(t *testing.T) {
	c := NewChecker(PermOptions{})
	r := c.Check(ProfileBasicControl, "VIN1", Lock)
	if r.Denied() {
		t.Fatalf("expected LOCK to be permitted, got issues: %+v", r.Issues)
	}
}

func TestCheckDeniesBatteryHeatUnderBasicControl(t *testing.T) {
	c := NewChecker(PermOptions{})
	r := c.Check(ProfileBasicControl, "VIN1", BatteryHeat)
	if !r.Denied() {
		t.Fatal("expected BATTERY_HEAT to be denied under Basic control")
	}
}

func TestCheckAllowsBatteryHeatUnderPremiumControl(t *testing.T) {
	c := NewChecker(PermOptions{})
	r := c.Check(ProfilePremiumControl, "VIN1", BatteryHeat)
	if r.Denied() {
		t.Fatalf("expected BATTERY_HEAT to be permitted under Premium control, got: %+v", r.Issues)
	}
}

func TestCheckExplicitGrantOverridesBatteryHeatRule(t *testing.T) {
	c := NewChecker(PermOptions{Grants: map[string]map[Code]bool{
		"VIN1": {BatteryHeat: true},
	}})
	r := c.Check(ProfileBasicControl, "VIN1", BatteryHeat)
	if r.Denied() {
		t.Fatalf("expected explicit grant to override the tier rule, got: %+v", r.Issues)
	}
}

func TestCheckExplicitDenyOverridesPremiumDefault(t *testing.T) {
	c := NewChecker(PermOptions{Grants: map[string]map[Code]bool{
		"VIN1": {Lock: false},
	}})
	r := c.Check(ProfilePremiumControl, "VIN1", Lock)
	if !r.Denied() {
		t.Fatal("expected explicit deny to override the default permit")
	}
}

func TestCheckUnknownCommandCodeIsDenied(t *testing.T) {
	c := NewChecker(PermOptions{})
	r := c.Check(ProfilePremiumControl, "VIN1", Code("NOT_A_REAL_COMMAND"))
	if !r.Denied() {
		t.Fatal("expected unrecognized command code to be denied")
	}
}
