// Package ofx reads OFX/QFX statement archives into raw records.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"

	"github.com/Veraticus/tally/internal/model"
)

var (
	severityRe = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	// An SGML opening tag alone on its line with the closing bracket missing.
	openTagRe = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// Parser implements OFX/QFX file parsing.
type Parser struct {
	logger *slog.Logger
	// AccountID, when set, replaces the account ids found in the file.
	AccountID string
}

// NewParser creates a new OFX parser.
func NewParser(accountID string) *Parser {
	return &Parser{
		AccountID: accountID,
		logger:    slog.Default().With("component", "ofx"),
	}
}

// preprocessOFX fixes common formatting issues in OFX files.
func preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRe.ReplaceAllStringFunc(content, strings.ToUpper)
	return openTagRe.ReplaceAllString(content, "$1>")
}

// ParseFile parses an OFX/QFX file into archive records. Records whose amount
// cannot be read come back with a nil Amount so ingest reports them.
func (p *Parser) ParseFile(ctx context.Context, reader io.Reader) ([]model.RawRecord, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var records []model.RawRecord
	var bankStmts, ccStmts int

	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok && stmt.BankTranList != nil {
			bankStmts++
			records = p.appendStatement(records, stmt.BankTranList.Transactions, string(stmt.BankAcctFrom.AcctID))
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok && stmt.BankTranList != nil {
			ccStmts++
			records = p.appendStatement(records, stmt.BankTranList.Transactions, string(stmt.CCAcctFrom.AcctID))
		}
	}

	p.logger.Info("Parsed OFX file",
		"total_transactions", len(records),
		"bank_statements", bankStmts,
		"cc_statements", ccStmts)
	return records, nil
}

func (p *Parser) appendStatement(out []model.RawRecord, txns []ofxgo.Transaction, accountID string) []model.RawRecord {
	if p.AccountID != "" {
		accountID = p.AccountID
	}
	for _, tx := range txns {
		out = append(out, p.convertTransaction(tx, accountID))
	}
	return out
}

// convertTransaction converts an OFX transaction. OFX signs debits negative;
// tally stores outflows positive, so the amount is flipped.
func (p *Parser) convertTransaction(tx ofxgo.Transaction, accountID string) model.RawRecord {
	description := strings.TrimSpace(string(tx.Name))
	if description == "" || isGenericDescription(description) {
		if memo := strings.TrimSpace(string(tx.Memo)); memo != "" {
			description = memo
		}
	}

	rec := model.RawRecord{
		Description:  description,
		MerchantName: extractMerchantName(tx),
		AccountID:    accountID,
		Source:       model.SourceArchive,
	}
	if posted := tx.DtPosted.Time; !posted.IsZero() {
		rec.Date = time.Date(posted.Year(), posted.Month(), posted.Day(), 0, 0, 0, 0, time.UTC)
	}

	amount, err := model.ParseCents(tx.TrnAmt.FloatString(2))
	if err != nil {
		p.logger.Warn("Failed to read OFX amount", "fitid", tx.FiTID, "error", err)
		return rec
	}
	rec.Amount = model.CentsPtr(-amount)
	return rec
}

var purchasePrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"ACH DEBIT ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
	"DEBIT PURCHASE ",
}

// extractMerchantName tries to get a clean merchant name from OFX data.
func extractMerchantName(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return strings.TrimSpace(string(tx.Payee.Name))
	}

	name := string(tx.Name)
	if tx.Memo != "" && isGenericDescription(name) {
		name = string(tx.Memo)
	}
	name = strings.TrimSpace(name)

	for _, prefix := range purchasePrefixes {
		if strings.HasPrefix(strings.ToUpper(name), prefix) {
			name = name[len(prefix):]
			break
		}
	}

	// "MM/DD " left behind by PURCHASE AUTHORIZED ON
	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}
	return name
}

func isGenericDescription(name string) bool {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBIT", "CREDIT", "PURCHASE", "PAYMENT", "POS TRANSACTION", "CARD PURCHASE":
		return true
	}
	return false
}
