package evolution

import (
	"evonft-service/internal/domain"
)

// EvolveAttributes applies one evolution step to attrs and returns a new
// slice. Existing order is kept; missing pipeline traits are appended with
// their defaults before being evolved.
func EvolveAttributes(attrs []domain.Attribute, tier domain.Tier, signals domain.Signals) []domain.Attribute {
	out := make([]domain.Attribute, len(attrs), len(attrs)+len(StatTraits)+5)
	copy(out, attrs)

	boost := tier.StatBoost()

	setInt(&out, TraitLevel, func(v int) int { return v + 1 }, DefaultLevel)
	for _, trait := range StatTraits {
		setInt(&out, trait, func(v int) int { return clamp(v+boost, MaxStat) }, DefaultStat)
	}
	setInt(&out, TraitEvolutions, func(v int) int { return v + 1 }, 0)

	if i := indexOf(out, TraitEvolutionType); i >= 0 {
		out[i] = domain.Attribute{TraitType: TraitEvolutionType, Value: tier.String()}
	} else {
		out = append(out, domain.Attribute{TraitType: TraitEvolutionType, Value: tier.String()})
	}

	if signals.TransactionCount > activeTraderTxMin {
		out = addTag(out, TagActiveTrader)
	}
	if signals.StakingDays > longTermHolderDays {
		out = addTag(out, TagLongTermHolder)
	}
	return out
}

// setInt updates trait in place, or appends it starting from def.
// Non-numeric values are treated as def.
func setInt(attrs *[]domain.Attribute, trait string, fn func(int) int, def int) {
	i := indexOf(*attrs, trait)
	if i < 0 {
		*attrs = append(*attrs, domain.Attribute{TraitType: trait, Value: fn(def)})
		return
	}
	v, ok := (*attrs)[i].IntValue()
	if !ok {
		v = def
	}
	a := (*attrs)[i]
	a.Value = fn(v)
	(*attrs)[i] = a
}

func addTag(attrs []domain.Attribute, tag string) []domain.Attribute {
	for _, a := range attrs {
		if s, ok := a.StringValue(); ok && a.TraitType == TraitTag && s == tag {
			return attrs
		}
	}
	return append(attrs, domain.Attribute{TraitType: TraitTag, Value: tag})
}

func indexOf(attrs []domain.Attribute, trait string) int {
	for i, a := range attrs {
		if a.TraitType == trait {
			return i
		}
	}
	return -1
}

func clamp(v, max int) int {
	if v > max {
		return max
	}
	if v < 0 {
		return 0
	}
	return v
}
