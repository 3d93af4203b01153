package model

import (
	"regexp"
	"strings"
	"time"
)

// RawRecord is a pre-parsed record handed to ingestion by a sync source or importer.
// Amount is a pointer so a missing amount can be told apart from zero.
type RawRecord struct {
	Date              time.Time
	Amount            *Cents
	ExternalID        string // Stable id from the bank, sync only
	PendingExternalID string // Id of the pending row this posted record replaces
	AccountID         string
	Description       string
	MerchantName      string
	Source            Source
	IsPending         bool
}

var (
	whitespaceRe   = regexp.MustCompile(`\s+`)
	referenceRe    = regexp.MustCompile(`\b[0-9#*]*[0-9]{5,}[0-9#*]*\b`)
	punctuationRe  = regexp.MustCompile(`[^A-Z0-9&./' -]+`)
	trailingNoiseR = regexp.MustCompile(`[\s.\-/#*]+$`)
)

// NormalizeDescription upper-cases a description, drops long reference
// numbers and punctuation noise, and collapses whitespace.
func NormalizeDescription(s string) string {
	out := strings.ToUpper(s)
	out = referenceRe.ReplaceAllString(out, " ")
	out = punctuationRe.ReplaceAllString(out, " ")
	out = whitespaceRe.ReplaceAllString(out, " ")
	out = strings.TrimSpace(out)
	out = trailingNoiseR.ReplaceAllString(out, "")
	return out
}

// MerchantKey returns the normalized text learning and mapping operate on:
// the merchant name if present, else the description.
func (t *Transaction) MerchantKey() string {
	if m := NormalizeDescription(t.MerchantName); m != "" {
		return m
	}
	return NormalizeDescription(t.Description)
}
