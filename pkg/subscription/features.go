package subscription

type Role string
type PlanName string
type Feature string

const (
	// RoleEntrepreneur keeps the stored spelling used by existing clients.
	RoleEntrepreneur Role = "enterprenuer"
	RoleInvestor     Role = "investor"
)

const (
	BasicPlan   PlanName = "Basic"
	PremiumPlan PlanName = "Premium"
)

// BasePlan is the tier every user falls back to after cancellation or expiry.
const BasePlan = BasicPlan

const (
	GlobalVisibility Feature = "global_visibility"
	Documents        Feature = "documents"
	ContactPitches   Feature = "contact_pitches"
)

type Capabilities struct {
	GlobalVisibility bool
	PitchLimit       int
	DocumentsAllowed bool
	ContactAllowed   bool
}

type capabilityKey struct {
	role Role
	plan PlanName
}

var capabilityTable = map[capabilityKey]Capabilities{
	{RoleEntrepreneur, BasicPlan}: {
		GlobalVisibility: false,
		PitchLimit:       1,
		DocumentsAllowed: false,
		ContactAllowed:   false,
	},
	{RoleEntrepreneur, PremiumPlan}: {
		GlobalVisibility: true,
		PitchLimit:       5,
		DocumentsAllowed: true,
		ContactAllowed:   false,
	},
	{RoleInvestor, BasicPlan}: {
		GlobalVisibility: false,
		PitchLimit:       0,
		DocumentsAllowed: false,
		ContactAllowed:   false,
	},
	{RoleInvestor, PremiumPlan}: {
		GlobalVisibility: true,
		PitchLimit:       0,
		DocumentsAllowed: true,
		ContactAllowed:   true,
	},
}

// CapabilitiesFor returns the entitlements of a role on a plan. Unknown
// plans resolve to the base tier of the role.
func CapabilitiesFor(role Role, plan PlanName) Capabilities {
	if caps, ok := capabilityTable[capabilityKey{role, plan}]; ok {
		return caps
	}
	return capabilityTable[capabilityKey{role, BasePlan}]
}

func CanUseFeature(role Role, plan PlanName, feature Feature) bool {
	caps := CapabilitiesFor(role, plan)
	switch feature {
	case GlobalVisibility:
		return caps.GlobalVisibility
	case Documents:
		return caps.DocumentsAllowed
	case ContactPitches:
		return caps.ContactAllowed
	default:
		return false
	}
}

// PlansWithGlobalVisibility lists the plans granting global reach to a role.
func PlansWithGlobalVisibility(role Role) []PlanName {
	var plans []PlanName
	for _, plan := range []PlanName{BasicPlan, PremiumPlan} {
		if CapabilitiesFor(role, plan).GlobalVisibility {
			plans = append(plans, plan)
		}
	}
	return plans
}

func ValidRole(r string) bool {
	return Role(r) == RoleEntrepreneur || Role(r) == RoleInvestor
}
