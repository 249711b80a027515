// Package parse turns free-form bill text into bill drafts. The real
// extraction model lives outside this process; KeywordParser is the local
// stand-in used when no external parser is configured.
package parse

import (
	"context"
	"regexp"
	"strings"
	"time"

	"billkeep/internal/core"
)

// Draft is a parsed bill candidate awaiting user confirmation. It carries no
// id and no sync state; confirming a draft goes through the normal create
// path.
type Draft struct {
	Type        core.BillType
	Amount      core.Money
	Category    string
	Merchant    string
	Description string
	Time        time.Time
}

// Parser extracts bill drafts from text. Implementations may call out to an
// external model; they must return an empty slice, not an error, when the
// text contains no recognizable bill.
type Parser interface {
	Parse(ctx context.Context, text string) ([]Draft, error)
}

var amountPattern = regexp.MustCompile(`(?:[¥$€]|CNY|RMB)?\s*(\d+(?:[.,]\d{1,2})?)\s*(?:元|块)?`)

// categoryKeywords maps substrings of the input to seeded category names.
// Order matters: the first match wins.
var categoryKeywords = []struct {
	keyword  string
	category string
	billType core.BillType
}{
	{"工资", "工资", core.Income},
	{"salary", "工资", core.Income},
	{"奖金", "工资", core.Income},
	{"bonus", "工资", core.Income},
	{"理财", "理财", core.Income},
	{"基金", "理财", core.Income},
	{"早餐", "餐饮", core.Expense},
	{"午餐", "餐饮", core.Expense},
	{"晚餐", "餐饮", core.Expense},
	{"外卖", "餐饮", core.Expense},
	{"lunch", "餐饮", core.Expense},
	{"dinner", "餐饮", core.Expense},
	{"打车", "交通", core.Expense},
	{"地铁", "交通", core.Expense},
	{"公交", "交通", core.Expense},
	{"taxi", "交通", core.Expense},
	{"房租", "住房", core.Expense},
	{"rent", "住房", core.Expense},
	{"电影", "娱乐", core.Expense},
	{"游戏", "娱乐", core.Expense},
	{"超市", "购物", core.Expense},
	{"淘宝", "购物", core.Expense},
	{"京东", "购物", core.Expense},
	{"药", "医疗", core.Expense},
	{"医院", "医疗", core.Expense},
	{"学费", "教育", core.Expense},
	{"课程", "教育", core.Expense},
}

const fallbackCategory = "其他"

// KeywordParser is a regex-and-keyword heuristic over one line of text. It
// implements Parser so callers can swap in a real model without touching the
// handlers.
type KeywordParser struct {
	now func() time.Time
}

func NewKeywordParser() *KeywordParser {
	return &KeywordParser{now: time.Now}
}

// Parse scans each non-empty line for an amount and a category keyword. Lines
// with no amount are skipped. The returned drafts use the current time since
// the heuristic does not attempt date extraction.
func (p *KeywordParser) Parse(ctx context.Context, text string) ([]Draft, error) {
	var drafts []Draft
	now := p.now().UTC()

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		match := amountPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		cents, err := core.ParseDecimalToCents(match[1])
		if err != nil || cents == 0 {
			continue
		}

		draft := Draft{
			Type:        core.Expense,
			Amount:      core.Money{Cents: cents},
			Category:    fallbackCategory,
			Description: line,
			Time:        now,
		}
		lower := strings.ToLower(line)
		for _, kw := range categoryKeywords {
			if strings.Contains(lower, kw.keyword) {
				draft.Category = kw.category
				draft.Type = kw.billType
				break
			}
		}
		drafts = append(drafts, draft)
	}

	return drafts, nil
}
