// Package normalize maps vendor-specific vocabulary found in remote records
// onto canonical dataset values: update frequency, spatial coverage, schemas,
// dates and descriptions. Functions here are pure except for SchemaCache.
package normalize

import (
	"strings"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/utils/text"
)

// FrequencyExtraKey is the extra under which an unrecognized frequency is kept.
const FrequencyExtraKey = "harvest:frequency"

const (
	dublinCoreFreqNS = "http://purl.org/cld/freq/"
	euFreqNS         = "http://publications.europa.eu/resource/authority/frequency/"
)

var dublinCoreFrequencies = map[string]entity.Frequency{
	"triennial":        entity.FrequencyTriennial,
	"biennial":         entity.FrequencyBiennial,
	"annual":           entity.FrequencyAnnual,
	"semiannual":       entity.FrequencySemiannual,
	"threetimesayear":  entity.FrequencyThreeTimesAYear,
	"quarterly":        entity.FrequencyQuarterly,
	"bimonthly":        entity.FrequencyBimonthly,
	"monthly":          entity.FrequencyMonthly,
	"semimonthly":      entity.FrequencySemimonthly,
	"biweekly":         entity.FrequencyBiweekly,
	"threetimesamonth": entity.FrequencyThreeTimesMonth,
	"weekly":           entity.FrequencyWeekly,
	"semiweekly":       entity.FrequencySemiweekly,
	"threetimesaweek":  entity.FrequencyThreeTimesAWeek,
	"daily":            entity.FrequencyDaily,
	"continuous":       entity.FrequencyContinuous,
	"irregular":        entity.FrequencyIrregular,
}

var euFrequencies = map[string]entity.Frequency{
	"ANNUAL":       entity.FrequencyAnnual,
	"ANNUAL_2":     entity.FrequencySemiannual,
	"ANNUAL_3":     entity.FrequencyThreeTimesAYear,
	"BIENNIAL":     entity.FrequencyBiennial,
	"BIMONTHLY":    entity.FrequencyBimonthly,
	"BIWEEKLY":     entity.FrequencyBiweekly,
	"CONT":         entity.FrequencyContinuous,
	"DAILY":        entity.FrequencyDaily,
	"DAILY_2":      entity.FrequencySemidaily,
	"HOURLY":       entity.FrequencyHourly,
	"IRREG":        entity.FrequencyIrregular,
	"MONTHLY":      entity.FrequencyMonthly,
	"MONTHLY_2":    entity.FrequencySemimonthly,
	"MONTHLY_3":    entity.FrequencyThreeTimesMonth,
	"NEVER":        entity.FrequencyPunctual,
	"OP_DATPRO":    entity.FrequencyUnknown,
	"QUARTERLY":    entity.FrequencyQuarterly,
	"QUINQUENNIAL": entity.FrequencyQuinquennial,
	"TRIENNIAL":    entity.FrequencyTriennial,
	"UNKNOWN":      entity.FrequencyUnknown,
	"UPDATE_CONT":  entity.FrequencyContinuous,
	"WEEKLY":       entity.FrequencyWeekly,
	"WEEKLY_2":     entity.FrequencySemiweekly,
	"WEEKLY_3":     entity.FrequencyThreeTimesAWeek,
}

// textFrequencies is keyed by text.Fold output.
var textFrequencies = map[string]entity.Frequency{
	"hourly":               entity.FrequencyHourly,
	"horaire":              entity.FrequencyHourly,
	"every hour":           entity.FrequencyHourly,
	"daily":                entity.FrequencyDaily,
	"day":                  entity.FrequencyDaily,
	"quotidien":            entity.FrequencyDaily,
	"quotidienne":          entity.FrequencyDaily,
	"journalier":           entity.FrequencyDaily,
	"journaliere":          entity.FrequencyDaily,
	"weekly":               entity.FrequencyWeekly,
	"week":                 entity.FrequencyWeekly,
	"hebdomadaire":         entity.FrequencyWeekly,
	"monthly":              entity.FrequencyMonthly,
	"month":                entity.FrequencyMonthly,
	"mensuel":              entity.FrequencyMonthly,
	"mensuelle":            entity.FrequencyMonthly,
	"quarterly":            entity.FrequencyQuarterly,
	"trimestriel":          entity.FrequencyQuarterly,
	"trimestrielle":        entity.FrequencyQuarterly,
	"semiannual":           entity.FrequencySemiannual,
	"semi annual":          entity.FrequencySemiannual,
	"biannual":             entity.FrequencySemiannual,
	"semestriel":           entity.FrequencySemiannual,
	"semestrielle":         entity.FrequencySemiannual,
	"annual":               entity.FrequencyAnnual,
	"annually":             entity.FrequencyAnnual,
	"yearly":               entity.FrequencyAnnual,
	"year":                 entity.FrequencyAnnual,
	"annuel":               entity.FrequencyAnnual,
	"annuelle":             entity.FrequencyAnnual,
	"biennial":             entity.FrequencyBiennial,
	"biennal":              entity.FrequencyBiennial,
	"biennale":             entity.FrequencyBiennial,
	"continuous":           entity.FrequencyContinuous,
	"continual":            entity.FrequencyContinuous,
	"real time":            entity.FrequencyContinuous,
	"realtime":             entity.FrequencyContinuous,
	"temps reel":           entity.FrequencyContinuous,
	"punctual":             entity.FrequencyPunctual,
	"ponctuel":             entity.FrequencyPunctual,
	"ponctuelle":           entity.FrequencyPunctual,
	"never":                entity.FrequencyPunctual,
	"irregular":            entity.FrequencyIrregular,
	"irregulier":           entity.FrequencyIrregular,
	"irreguliere":          entity.FrequencyIrregular,
	"as needed":            entity.FrequencyIrregular,
	"unknown":              entity.FrequencyUnknown,
	"inconnu":              entity.FrequencyUnknown,
	"inconnue":             entity.FrequencyUnknown,
	"fourtimesaday":        entity.FrequencyFourTimesADay,
	"threetimesaday":       entity.FrequencyThreeTimesADay,
	"semidaily":            entity.FrequencySemidaily,
	"fourtimesaweek":       entity.FrequencyFourTimesAWeek,
	"threetimesaweek":      entity.FrequencyThreeTimesAWeek,
	"semiweekly":           entity.FrequencySemiweekly,
	"biweekly":             entity.FrequencyBiweekly,
	"threetimesamonth":     entity.FrequencyThreeTimesMonth,
	"semimonthly":          entity.FrequencySemimonthly,
	"bimonthly":            entity.FrequencyBimonthly,
	"threetimesayear":      entity.FrequencyThreeTimesAYear,
	"triennial":            entity.FrequencyTriennial,
	"quinquennial":         entity.FrequencyQuinquennial,
	"bimensuel":            entity.FrequencySemimonthly,
	"bimestriel":           entity.FrequencyBimonthly,
	"bihebdomadaire":       entity.FrequencySemiweekly,
	"triennal":             entity.FrequencyTriennial,
	"quinquennal":          entity.FrequencyQuinquennial,
	"two times a day":      entity.FrequencySemidaily,
	"twice a day":          entity.FrequencySemidaily,
	"twice a week":         entity.FrequencySemiweekly,
	"twice a month":        entity.FrequencySemimonthly,
	"twice a year":         entity.FrequencySemiannual,
	"every two weeks":      entity.FrequencyBiweekly,
	"every two months":     entity.FrequencyBimonthly,
	"every two years":      entity.FrequencyBiennial,
	"every three years":    entity.FrequencyTriennial,
	"three times a year":   entity.FrequencyThreeTimesAYear,
	"three times a month":  entity.FrequencyThreeTimesMonth,
	"three times a week":   entity.FrequencyThreeTimesAWeek,
	"three times a day":    entity.FrequencyThreeTimesADay,
	"four times a day":     entity.FrequencyFourTimesADay,
	"four times a week":    entity.FrequencyFourTimesAWeek,
	"mise a jour continue": entity.FrequencyContinuous,
}

// FrequencyFromRDF maps a Dublin Core or EU frequency URI to the canonical
// enumeration. Values outside both vocabularies go through FrequencyFromText.
func FrequencyFromRDF(term string) (entity.Frequency, bool) {
	term = strings.TrimSpace(term)
	switch {
	case strings.HasPrefix(term, dublinCoreFreqNS):
		f, ok := dublinCoreFrequencies[strings.ToLower(strings.TrimPrefix(term, dublinCoreFreqNS))]
		return f, ok
	case strings.HasPrefix(term, euFreqNS):
		f, ok := euFrequencies[strings.ToUpper(strings.TrimPrefix(term, euFreqNS))]
		return f, ok
	case strings.Contains(term, "://"):
		return "", false
	}
	return FrequencyFromText(term)
}

// FrequencyFromText maps a free-text synonym (English or French) or a
// canonical value in any case to the canonical enumeration.
func FrequencyFromText(value string) (entity.Frequency, bool) {
	key := text.Fold(value)
	if key == "" {
		return "", false
	}
	if f, ok := textFrequencies[key]; ok {
		return f, true
	}
	f, ok := textFrequencies[strings.ReplaceAll(key, " ", "")]
	return f, ok
}

// ApplyFrequency sets the dataset frequency from a raw remote value. An
// unrecognized value leaves the frequency empty and is kept verbatim under
// FrequencyExtraKey. It never fails.
func ApplyFrequency(d *entity.Dataset, raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	if f, ok := FrequencyFromRDF(raw); ok {
		d.Frequency = f
		delete(d.Extras, FrequencyExtraKey)
		return
	}
	d.Frequency = ""
	d.SetExtra(FrequencyExtraKey, raw)
}
