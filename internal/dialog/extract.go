package dialog

import (
	"regexp"
	"strings"
)

// LeadFields are the structured attributes mined from the caller's side of
// the conversation for the finalized call summary. Empty fields mean the
// caller never mentioned them.
type LeadFields struct {
	Area         string
	PropertyType string
	Budget       string
}

// propertyTypes maps Hebrew property keywords to the canonical type recorded
// in the summary. Order does not matter; first match in caller text wins.
var propertyTypes = []struct{ keyword, canonical string }{
	{"פנטהאוז", "penthouse"},
	{"דופלקס", "duplex"},
	{"דירת גן", "garden_apartment"},
	{"דירה", "apartment"},
	{"בית פרטי", "house"},
	{"קוטג", "house"},
	{"וילה", "house"},
	{"מגרש", "lot"},
	{"משרד", "office"},
	{"חנות", "retail"},
}

var (
	// "באזור רמת גן", "בשכונת פלורנטין", "בעיר חולון"; capture up to two
	// words after the location marker.
	areaPattern = regexp.MustCompile(`(?:באזור|בשכונת|בעיר)\s+(\S+(?:\s\S+)?)`)

	// "שני מיליון", "1.5 מיליון", "800 אלף שקל", "מיליון וחצי".
	budgetPattern = regexp.MustCompile(`((?:[0-9][0-9.,]*|חצי|שני|שלושה|ארבעה)\s*(?:מיליון|אלף)(?:\s*וחצי)?|[0-9][0-9.,]*\s*(?:שקל|ש"ח|₪))`)
)

// ExtractLeadFields scans the caller turns for area, property type, and
// budget mentions. Later mentions override earlier ones: callers refine what
// they want as the conversation progresses.
func ExtractLeadFields(turns []Turn) LeadFields {
	var f LeadFields
	for _, t := range turns {
		if t.Role != RoleCaller {
			continue
		}
		for _, pt := range propertyTypes {
			if strings.Contains(t.Text, pt.keyword) {
				f.PropertyType = pt.canonical
				break
			}
		}
		if m := areaPattern.FindStringSubmatch(t.Text); m != nil {
			f.Area = strings.Trim(m[1], ",.?!")
		}
		if m := budgetPattern.FindString(t.Text); m != "" {
			f.Budget = strings.TrimSpace(m)
		}
	}
	return f
}
