package entitlements

import "strings"

type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanBusiness   Plan = "business"
	PlanEnterprise Plan = "enterprise"
)

const (
	// QuotaUnlimited marks a plan without a usage cap.
	QuotaUnlimited int64 = -1

	// FreeQuota is the usage cap of the free tier.
	FreeQuota int64 = 50

	// DefaultQuota is used when a paid plan event carries no explicit cap.
	DefaultQuota int64 = 1000
)

// PlanLimits is the single source of truth for plan entitlements and pricing.
// Amounts are in the provider's minor currency unit.
type PlanLimits struct {
	Quota  int64
	Amount int64
}

var planTable = map[Plan]PlanLimits{
	PlanFree:       {Quota: FreeQuota, Amount: 0},
	PlanPro:        {Quota: 1000, Amount: 500000},
	PlanBusiness:   {Quota: QuotaUnlimited, Amount: 1500000},
	PlanEnterprise: {Quota: QuotaUnlimited, Amount: 5000000},
}

// NormalizePlan maps arbitrary plan strings to a known plan, defaulting to free.
func NormalizePlan(plan string) Plan {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(PlanPro):
		return PlanPro
	case string(PlanBusiness):
		return PlanBusiness
	case string(PlanEnterprise):
		return PlanEnterprise
	default:
		return PlanFree
	}
}

// IsKnownPlan reports whether the given name is one of the defined plans.
func IsKnownPlan(plan string) bool {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(PlanFree), string(PlanPro), string(PlanBusiness), string(PlanEnterprise):
		return true
	default:
		return false
	}
}

// LimitsFor returns the entitlements of a plan, falling back to free limits
// for unknown plan names.
func LimitsFor(plan Plan) PlanLimits {
	if l, ok := planTable[NormalizePlan(string(plan))]; ok {
		return l
	}
	return planTable[PlanFree]
}

// QuotaFor returns the usage cap for a plan.
func QuotaFor(plan Plan) int64 {
	return LimitsFor(plan).Quota
}

// IsUnlimited reports whether the given quota value means "no cap".
func IsUnlimited(quota int64) bool {
	return quota == QuotaUnlimited
}
