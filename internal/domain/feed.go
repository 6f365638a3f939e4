package domain

import (
	"fmt"
	"strings"
)

// Feed is one paginated listing at the source, e.g. House bills of the 118th Congress.
type Feed struct {
	Kind     TargetType
	Congress int
	Type     string
}

// Key identifies the feed's watermark, e.g. "bill/118/hr".
func (f Feed) Key() string {
	return fmt.Sprintf("%s/%d/%s", f.Kind, f.Congress, strings.ToLower(f.Type))
}

func (f Feed) String() string { return f.Key() }

// FeedsFor expands congress numbers and chambers into every bill and amendment feed.
func FeedsFor(congresses []int, chambers []Chamber) []Feed {
	var feeds []Feed
	for _, congress := range congresses {
		for _, chamber := range chambers {
			for _, bt := range chamber.BillTypes() {
				feeds = append(feeds, Feed{Kind: TargetBill, Congress: congress, Type: string(bt)})
			}
			for _, at := range chamber.AmendmentTypes() {
				feeds = append(feeds, Feed{Kind: TargetAmendment, Congress: congress, Type: string(at)})
			}
		}
	}
	return feeds
}
