package schema

import (
	"regexp"
	"strconv"
	"strings"
)

// Slot keys for the onboarding flow.
const (
	SlotFullName         = "full_name"
	SlotEmail            = "email"
	SlotZipCode          = "zip_code"
	SlotVehicleYear      = "vehicle_year"
	SlotVehicleMake      = "vehicle_make"
	SlotVehicleModel     = "vehicle_model"
	SlotVehicleUse       = "vehicle_use"
	SlotBlindSpotWarning = "blind_spot_warning"
	SlotCommuteDays      = "commute_days"
	SlotCommuteMiles     = "commute_miles"
	SlotAnnualMileage    = "annual_mileage"
	SlotLicenseType      = "license_type"
	SlotLicenseStatus    = "license_status"
)

const (
	minVehicleYear      = 1980
	vehicleUseCommuting = "commuting"
	licenseTypeForeign  = "foreign"
)

var (
	emailPattern   = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	zipPattern     = regexp.MustCompile(`^\d{5}$`)
	numericPattern = regexp.MustCompile(`^[\d\s.,-]+$`)
)

func validateFullName(raw string) (string, error) {
	txt := strings.TrimSpace(raw)
	if txt == "" || numericPattern.MatchString(txt) {
		return "", &Rejection{Reason: "Please provide your full name (first and last)."}
	}
	if len(strings.Fields(txt)) < 2 {
		return "", &Rejection{Reason: "Please provide your full name (first and last)."}
	}
	return txt, nil
}

func validateEmail(raw string) (string, error) {
	txt := strings.ToLower(strings.TrimSpace(raw))
	if !emailPattern.MatchString(txt) {
		return "", &Rejection{Reason: "Please provide a valid email address."}
	}
	return txt, nil
}

func validateZip(raw string) (string, error) {
	txt := strings.TrimSpace(raw)
	if !zipPattern.MatchString(txt) {
		return "", &Rejection{Reason: "Please provide a valid 5-digit zip code."}
	}
	return txt, nil
}

func validateYear(maxYear int) func(string) (string, error) {
	return func(raw string) (string, error) {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < minVehicleYear || n > maxYear {
			return "", &Rejection{Reason: "Please provide the vehicle's model year (for example, 2019)."}
		}
		return strconv.Itoa(n), nil
	}
}

func validateNonEmptyTitle(reprompt string) func(string) (string, error) {
	return func(raw string) (string, error) {
		txt := strings.TrimSpace(raw)
		if txt == "" || numericPattern.MatchString(txt) {
			return "", &Rejection{Reason: reprompt}
		}
		return title(txt), nil
	}
}

func validateEnum(reprompt string, values ...string) func(string) (string, error) {
	return func(raw string) (string, error) {
		txt := strings.ToLower(strings.TrimSpace(raw))
		for _, v := range values {
			if txt == v {
				return txt, nil
			}
		}
		return "", &Rejection{Reason: reprompt}
	}
}

// ValidateYesNo normalizes an affirmative or negative answer to "yes"/"no".
// It is used both for yes/no slots and for the review confirmation.
func ValidateYesNo(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "y", "yeah", "yep", "sure", "ok", "okay", "true", "correct":
		return "yes", nil
	case "no", "n", "nope", "nah", "false", "incorrect":
		return "no", nil
	default:
		return "", &Rejection{Reason: "Please answer Yes or No."}
	}
}

func validateIntRange(lo, hi int, reprompt string) func(string) (string, error) {
	return func(raw string) (string, error) {
		txt := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
		n, err := strconv.Atoi(txt)
		if err != nil || n < lo || n > hi {
			return "", &Rejection{Reason: reprompt}
		}
		return strconv.Itoa(n), nil
	}
}

// title uppercases the first letter of each word; enough for make/model
// normalization without pulling in locale-aware casing.
func title(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

// Conditional slots stay applicable until the deciding slot rules them
// out. The deciding slot always precedes them in order, so they are never
// offered for collection early, and the progress denominator only ever
// shrinks, keeping progress monotonic within a pass.
func isCommuting(collected map[string]string) bool {
	use, ok := collected[SlotVehicleUse]
	return !ok || use == vehicleUseCommuting
}

func defaultSlots(maxYear int) []Definition {
	return []Definition{
		{
			Key:      SlotFullName,
			Prompt:   "What's your full name?",
			Hint:     "the person's full name, first and last",
			Required: true,
			Order:    10,
			Validate: validateFullName,
		},
		{
			Key:      SlotEmail,
			Prompt:   "What's your email address?",
			Hint:     "an email address",
			Required: true,
			Order:    20,
			Validate: validateEmail,
		},
		{
			Key:      SlotZipCode,
			Prompt:   "What's your 5-digit zip code?",
			Hint:     "a 5-digit US zip code",
			Required: true,
			Order:    30,
			Validate: validateZip,
		},
		{
			Key:      SlotVehicleYear,
			Prompt:   "What year is your vehicle?",
			Hint:     "a vehicle model year, four digits",
			Required: true,
			Order:    40,
			Validate: validateYear(maxYear),
		},
		{
			Key:      SlotVehicleMake,
			Prompt:   "What make is your vehicle? (e.g. Honda)",
			Hint:     "a vehicle manufacturer name",
			Required: true,
			Order:    50,
			Validate: validateNonEmptyTitle("Please provide the vehicle's make (for example, Honda)."),
		},
		{
			Key:      SlotVehicleModel,
			Prompt:   "What model is your vehicle? (e.g. Civic)",
			Hint:     "a vehicle model or body type",
			Required: true,
			Order:    60,
			Validate: validateNonEmptyTitle("Please provide the vehicle's model (for example, Civic)."),
		},
		{
			Key:      SlotVehicleUse,
			Prompt:   "How do you primarily use this vehicle? (commuting, commercial, farming, or business)",
			Hint:     "one of: commuting, commercial, farming, business",
			Required: true,
			Order:    70,
			Validate: validateEnum("Please choose: commuting, commercial, farming, or business.",
				"commuting", "commercial", "farming", "business"),
		},
		{
			Key:      SlotBlindSpotWarning,
			Prompt:   "Does this vehicle have blind spot warning? (Yes or No)",
			Hint:     "a yes or no answer",
			Required: false,
			Order:    80,
			Validate: ValidateYesNo,
		},
		{
			Key:      SlotCommuteDays,
			Prompt:   "How many days per week do you commute with this vehicle?",
			Hint:     "a number of days between 1 and 7",
			Required: true,
			Order:    90,
			Validate: validateIntRange(1, 7, "Please enter a number between 1 and 7."),
			Applies:  isCommuting,
		},
		{
			Key:      SlotCommuteMiles,
			Prompt:   "What's your one-way distance to work/school in miles?",
			Hint:     "a one-way distance in miles",
			Required: true,
			Order:    100,
			Validate: validateIntRange(1, 999, "Please enter the number of miles (1-999)."),
			Applies:  isCommuting,
		},
		{
			Key:      SlotAnnualMileage,
			Prompt:   "What's the estimated annual mileage for this vehicle?",
			Hint:     "an annual mileage figure",
			Required: true,
			Order:    110,
			Validate: validateIntRange(1, 499999, "Please enter annual mileage (e.g., 12000)."),
			Applies: func(collected map[string]string) bool {
				use, ok := collected[SlotVehicleUse]
				return !ok || use != vehicleUseCommuting
			},
		},
		{
			Key:      SlotLicenseType,
			Prompt:   "What type of license do you have? (Foreign, Personal, or Commercial)",
			Hint:     "one of: foreign, personal, commercial",
			Required: true,
			Order:    120,
			Validate: validateEnum("Please choose: Foreign, Personal, or Commercial.",
				"foreign", "personal", "commercial"),
		},
		{
			Key:      SlotLicenseStatus,
			Prompt:   "What's your license status? (Valid or Suspended)",
			Hint:     "one of: valid, suspended",
			Required: true,
			Order:    130,
			Validate: validateEnum("Please choose: Valid or Suspended.", "valid", "suspended"),
			Applies: func(collected map[string]string) bool {
				lic, ok := collected[SlotLicenseType]
				return !ok || lic != licenseTypeForeign
			},
		},
	}
}
