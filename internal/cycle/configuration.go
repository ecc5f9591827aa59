package cycle

import (
	"fmt"

	"risk-view-engine/internal/config"
	"risk-view-engine/internal/domain"
)

// ConfigurationsFromConfig converts configured calculation configurations.
func ConfigurationsFromConfig(cfgs []config.CalcConfiguration) ([]Configuration, error) {
	out := make([]Configuration, 0, len(cfgs))
	for _, cc := range cfgs {
		c := Configuration{Name: cc.Name}
		for _, rc := range cc.Requirements {
			target, err := domain.ParseTargetSpecification(rc.Target)
			if err != nil {
				return nil, fmt.Errorf("configuration %s: %w", cc.Name, err)
			}
			var constraints domain.ValueProperties
			if len(rc.Constraints) > 0 {
				constraints = make(domain.ValueProperties, len(rc.Constraints))
				for k, v := range rc.Constraints {
					constraints[k] = v
				}
			}
			c.Requirements = append(c.Requirements, domain.ValueRequirement{
				ValueName:   rc.Value,
				Target:      target,
				Constraints: constraints,
			})
		}
		out = append(out, c)
	}
	return out, nil
}
