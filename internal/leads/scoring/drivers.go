package scoring

import (
	"strings"
	"time"

	"leadintel_backend/internal/leads/domain"
)

const maxDrivers = 3

// Drivers lists up to three human-readable reasons behind a lead's score.
func Drivers(attrs domain.Attributes, now time.Time) []string {
	drivers := make([]string, 0, maxDrivers)

	if v, ok := attrs.Num(domain.AttrProjectValue); ok {
		switch {
		case v >= 10_000_000:
			drivers = append(drivers, "High Value ($10M+)")
		case v >= 2_000_000:
			drivers = append(drivers, "Mid Value ($2M+)")
		}
	}

	if raw, ok := attrs.TextValue(domain.AttrProjectType); ok {
		types := strings.ToLower(raw)
		if strings.Contains(types, "hotel") || strings.Contains(types, "hospitality") {
			drivers = append(drivers, "Hospitality Match")
		}
		if strings.Contains(types, "multifamily") || strings.Contains(types, "apartment") || strings.Contains(types, "senior_living") {
			drivers = append(drivers, "MDU Match")
		}
	}

	if raw, ok := attrs.TextValue(domain.AttrStage); ok {
		switch NormalizeStage(raw) {
		case "planning", "design":
			drivers = append(drivers, "Early Stage (Planning)")
		case "construction", "pre_construction":
			drivers = append(drivers, "Active Construction")
		}
	}

	if months, ok := MonthsToStart(attrs, now); ok && months <= 3 {
		drivers = append(drivers, "Starting Soon")
	}

	text := signalText(attrs)
	if strings.Contains(text, "property improvement plan") || strings.Contains(text, " pip ") {
		drivers = append(drivers, "PIP Detected")
	}
	if strings.Contains(text, "amenities") {
		drivers = append(drivers, "High Amenities")
	}

	if len(drivers) > maxDrivers {
		drivers = drivers[:maxDrivers]
	}
	return drivers
}
