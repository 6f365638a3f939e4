package domain

import (
	"fmt"
	"strings"
	"time"
)

// AnalysisInput is the denormalized text handed to the analysis function.
type AnalysisInput struct {
	Target Target
	Title  string
	Text   string
}

// BillContent renders a bill for analysis.
func BillContent(b Bill) AnalysisInput {
	var sb strings.Builder
	writeLine(&sb, "Bill", fmt.Sprintf("%s %d, %d%s Congress", displayBillType(b.Key.Type), b.Key.Number, b.Key.Congress, ordinalSuffix(b.Key.Congress)))
	writeLine(&sb, "Title", b.Title)
	writeLine(&sb, "Origin chamber", b.OriginChamber)
	writeDate(&sb, "Introduced", b.IntroducedDate)
	writeLine(&sb, "Description", b.Description)
	writeDate(&sb, "Latest action date", b.LatestActionDate)
	writeLine(&sb, "Latest action", b.LatestActionText)
	writeLine(&sb, "Constitutional authority", b.ConstitutionalAuthorityText)

	return AnalysisInput{
		Target: b.Target(),
		Title:  b.Title,
		Text:   strings.TrimRight(sb.String(), "\n"),
	}
}

// AmendmentContent renders an amendment, prefixed with its parent bill when known.
func AmendmentContent(a Amendment, parent *Bill) AnalysisInput {
	var sb strings.Builder
	if parent != nil {
		sb.WriteString("Original Bill:\n")
		sb.WriteString(BillContent(*parent).Text)
		sb.WriteString("\n\nAmendment:\n")
	}
	writeLine(&sb, "Amendment", fmt.Sprintf("%s %d, %d%s Congress", a.Key.Type, a.Key.Number, a.Key.Congress, ordinalSuffix(a.Key.Congress)))
	writeLine(&sb, "Chamber", a.Chamber)
	writeDate(&sb, "Submitted", a.SubmittedDate)
	writeLine(&sb, "Purpose", a.Purpose)
	writeLine(&sb, "Description", a.Description)
	writeDate(&sb, "Latest action date", a.LatestActionDate)
	writeLine(&sb, "Latest action", a.LatestActionText)

	title := a.Purpose
	if title == "" {
		title = a.Key.String()
	}
	return AnalysisInput{
		Target: a.Target(),
		Title:  title,
		Text:   strings.TrimRight(sb.String(), "\n"),
	}
}

func writeLine(sb *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	sb.WriteString(label)
	sb.WriteString(": ")
	sb.WriteString(value)
	sb.WriteByte('\n')
}

func writeDate(sb *strings.Builder, label string, t time.Time) {
	if t.IsZero() {
		return
	}
	writeLine(sb, label, t.UTC().Format("2006-01-02"))
}

var billTypeLabels = map[BillType]string{
	BillHR:      "H.R.",
	BillS:       "S.",
	BillHJRES:   "H.J.Res.",
	BillSJRES:   "S.J.Res.",
	BillHCONRES: "H.Con.Res.",
	BillSCONRES: "S.Con.Res.",
	BillHRES:    "H.Res.",
	BillSRES:    "S.Res.",
}

func displayBillType(t BillType) string {
	if label, ok := billTypeLabels[t]; ok {
		return label
	}
	return string(t)
}

func ordinalSuffix(n int) string {
	if n%100 >= 11 && n%100 <= 13 {
		return "th"
	}
	switch n % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	}
	return "th"
}
