// Package costfunctions holds the navigation models that policies combine:
// force-based avoidance models wrapped by engine.ForceBased, and cost
// functions evaluated directly in velocity space.
package costfunctions

import "github.com/pthm-cable/crowdsim/engine"

// Model names as they appear in scenario files.
const (
	NameGoalReachingForce     = "GoalReachingForce"
	NameSocialForcesAvoidance = "SocialForcesAvoidance"
	NamePowerLaw              = "PowerLaw"
	NameSPH                   = "SPH"
	NameKaramouzas            = "Karamouzas"
	NameMoussaid              = "Moussaid"
	NameRVO                   = "RVO"
	NameTtcaDca               = "TtcaDca"
	NameVanToll               = "VanToll"
	NamePLEdestrians          = "PLEdestrians"
	NameParis                 = "Paris"
	NameFOEAvoidance          = "FOEAvoidance"
	NameORCA                  = "ORCA"
	NameRandomFunction        = "RandomFunction"
	NameGenericCost           = "GenericCost"
)

// RegisterAll adds every model of this package to reg.
func RegisterAll(reg *engine.Registry) {
	reg.Register(NameGoalReachingForce, func() engine.CostFunction { return engine.NewForceBased(NewGoalReachingForce()) })
	reg.Register(NameSocialForcesAvoidance, func() engine.CostFunction { return engine.NewForceBased(NewSocialForcesAvoidance()) })
	reg.Register(NamePowerLaw, func() engine.CostFunction { return engine.NewForceBased(NewPowerLaw()) })
	reg.Register(NameSPH, func() engine.CostFunction { return engine.NewForceBased(NewSPH()) })
	reg.Register(NameKaramouzas, func() engine.CostFunction { return NewKaramouzas() })
	reg.Register(NameMoussaid, func() engine.CostFunction { return NewMoussaid() })
	reg.Register(NameRVO, func() engine.CostFunction { return NewRVO() })
	reg.Register(NameTtcaDca, func() engine.CostFunction { return NewTtcaDca() })
	reg.Register(NameVanToll, func() engine.CostFunction { return NewVanToll() })
	reg.Register(NamePLEdestrians, func() engine.CostFunction { return NewPLEdestrians() })
	reg.Register(NameParis, func() engine.CostFunction { return NewParis() })
	reg.Register(NameFOEAvoidance, func() engine.CostFunction { return NewFOEAvoidance() })
	reg.Register(NameORCA, func() engine.CostFunction { return NewORCA() })
	reg.Register(NameRandomFunction, func() engine.CostFunction { return NewRandomFunction() })
	reg.Register(NameGenericCost, func() engine.CostFunction { return NewGenericCost() })
}

// NewRegistry returns a registry holding every model of this package.
func NewRegistry() *engine.Registry {
	reg := engine.NewRegistry()
	RegisterAll(reg)
	return reg
}
