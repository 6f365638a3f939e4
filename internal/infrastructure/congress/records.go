package congress

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"BillsAnalyzer/internal/domain"
)

type pagination struct {
	Count int    `json:"count"`
	Next  string `json:"next"`
}

type latestAction struct {
	ActionDate string `json:"actionDate"`
	ActionTime string `json:"actionTime"`
	Text       string `json:"text"`
}

type billItem struct {
	Congress          int           `json:"congress"`
	Type              string        `json:"type"`
	Number            string        `json:"number"`
	Title             string        `json:"title"`
	OriginChamber     string        `json:"originChamber"`
	OriginChamberCode string        `json:"originChamberCode"`
	LatestAction      *latestAction `json:"latestAction"`
	UpdateDate        string        `json:"updateDate"`
	URL               string        `json:"url"`
}

type billListResponse struct {
	Bills      []billItem `json:"bills"`
	Pagination pagination `json:"pagination"`
}

type billDetail struct {
	billItem
	IntroducedDate                       string `json:"introducedDate"`
	ConstitutionalAuthorityStatementText string `json:"constitutionalAuthorityStatementText"`
}

type billDetailResponse struct {
	Bill billDetail `json:"bill"`
}

type summaryItem struct {
	ActionDate string `json:"actionDate"`
	ActionDesc string `json:"actionDesc"`
	Text       string `json:"text"`
	UpdateDate string `json:"updateDate"`
}

type summariesResponse struct {
	Summaries []summaryItem `json:"summaries"`
}

type actionsResponse struct {
	Actions json.RawMessage `json:"actions"`
}

type amendedBill struct {
	Congress int    `json:"congress"`
	Type     string `json:"type"`
	Number   string `json:"number"`
}

type amendmentItem struct {
	Congress     int           `json:"congress"`
	Type         string        `json:"type"`
	Number       string        `json:"number"`
	Description  string        `json:"description"`
	Purpose      string        `json:"purpose"`
	LatestAction *latestAction `json:"latestAction"`
	UpdateDate   string        `json:"updateDate"`
	URL          string        `json:"url"`
}

type amendmentListResponse struct {
	Amendments []amendmentItem `json:"amendments"`
	Pagination pagination      `json:"pagination"`
}

type amendmentDetail struct {
	amendmentItem
	Chamber       string       `json:"chamber"`
	SubmittedDate string       `json:"submittedDate"`
	AmendedBill   *amendedBill `json:"amendedBill"`
}

type amendmentDetailResponse struct {
	Amendment amendmentDetail `json:"amendment"`
}

func (b billItem) toDomain() (domain.Bill, error) {
	billType, err := domain.ParseBillType(b.Type)
	if err != nil {
		return domain.Bill{}, err
	}
	number, err := parseNumber(b.Number)
	if err != nil {
		return domain.Bill{}, fmt.Errorf("bill %d %s: %w", b.Congress, b.Type, err)
	}

	bill := domain.Bill{
		Key:               domain.BillKey{Congress: b.Congress, Type: billType, Number: number},
		Title:             strings.TrimSpace(b.Title),
		OriginChamber:     b.OriginChamber,
		OriginChamberCode: b.OriginChamberCode,
		UpdateDate:        parseTime(b.UpdateDate),
		URL:               b.URL,
	}
	if b.LatestAction != nil {
		bill.LatestActionDate = parseTime(b.LatestAction.ActionDate)
		bill.LatestActionText = PlainText(b.LatestAction.Text)
	}
	return bill, nil
}

func (a amendmentItem) toDomain() (domain.Amendment, error) {
	amendmentType, err := domain.ParseAmendmentType(a.Type)
	if err != nil {
		return domain.Amendment{}, err
	}
	number, err := parseNumber(a.Number)
	if err != nil {
		return domain.Amendment{}, fmt.Errorf("amendment %d %s: %w", a.Congress, a.Type, err)
	}

	amendment := domain.Amendment{
		Key:         domain.AmendmentKey{Congress: a.Congress, Type: amendmentType, Number: number},
		Purpose:     PlainText(a.Purpose),
		Description: PlainText(a.Description),
		UpdateDate:  parseTime(a.UpdateDate),
		URL:         a.URL,
	}
	if a.LatestAction != nil {
		amendment.LatestActionDate = parseTime(a.LatestAction.ActionDate)
		amendment.LatestActionText = PlainText(a.LatestAction.Text)
	}
	return amendment, nil
}

func (a *amendedBill) key() *domain.BillKey {
	if a == nil {
		return nil
	}
	billType, err := domain.ParseBillType(a.Type)
	if err != nil {
		return nil
	}
	number, err := parseNumber(a.Number)
	if err != nil {
		return nil
	}
	return &domain.BillKey{Congress: a.Congress, Type: billType, Number: number}
}

func parseNumber(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid number %q", raw)
	}
	return n, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseTime accepts the timestamp shapes Congress.gov emits; unknown shapes yield zero.
func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
